package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/facturia/verifactu-api/internal/application/billing"
	"github.com/facturia/verifactu-api/internal/application/compliance"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
	"github.com/facturia/verifactu-api/internal/infrastructure/aeat"
	inframetrics "github.com/facturia/verifactu-api/internal/infrastructure/metrics"
	"github.com/facturia/verifactu-api/internal/infrastructure/notify"
	infrapdf "github.com/facturia/verifactu-api/internal/infrastructure/pdf"
	"github.com/facturia/verifactu-api/internal/infrastructure/postgres"
	httpRouter "github.com/facturia/verifactu-api/internal/interfaces/http"
	"github.com/facturia/verifactu-api/pkg/config"
	"github.com/facturia/verifactu-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("aeat_env", cfg.VeriFactu.Environment).
		Bool("auto_send", cfg.VeriFactu.AutoSend).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	companyRepo := postgres.NewCompanyRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	recordRepo := postgres.NewRecordRepository(pool)
	chainRepo := postgres.NewChainStateRepository(pool)
	submissionRepo := postgres.NewSubmissionRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	promMetrics := inframetrics.New()

	// Cliente SOAP AEAT. Sin certificado configurado el motor trabaja en modo
	// solo-encadenado: calcula huellas y compromete eslabones sin enviar.
	var submitter aeat.Submitter
	if cfg.VeriFactu.CertPath != "" {
		clientCert, err := aeat.LoadClientCertificate(
			cfg.VeriFactu.CertPath, cfg.VeriFactu.CertKeyPath, cfg.VeriFactu.CertPassword,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("certificado del obligado tributario")
		}
		soapClient, err := aeat.NewSOAPClient(cfg.VeriFactu, clientCert, log.Component("aeat").Zerolog())
		if err != nil {
			log.Fatal().Err(err).Msg("cliente SOAP AEAT")
		}
		submitter = soapClient
	} else if cfg.VeriFactu.AutoSend {
		log.Fatal().Msg("VERIFACTU_AUTO_SEND requiere certificado configurado")
	}

	// Notificador de rechazos: redis pub/sub si está configurado, log si no.
	var notifier compliance.Notifier
	redisNotifier, err := notify.NewRedisNotifier(cfg.Redis, log.Component("notify").Zerolog())
	if err != nil {
		log.Warn().Err(err).Msg("redis no disponible, notificaciones por log")
	}
	if redisNotifier != nil {
		notifier = redisNotifier
		defer redisNotifier.Close()
	} else {
		notifier = notify.NewLogNotifier(log.Component("notify").Zerolog())
	}

	huellaSvc := verifactu.NewHuellaService()
	chainSvc := compliance.NewChainService(
		chainRepo, recordRepo, huellaSvc, txRunner,
		promMetrics, log.Component("chain").Zerolog(),
	)
	orchestrator := compliance.NewOrchestrator(compliance.OrchestratorDeps{
		InvoiceRepo:    invoiceRepo,
		CompanyRepo:    companyRepo,
		CustomerRepo:   customerRepo,
		RecordRepo:     recordRepo,
		SubmissionRepo: submissionRepo,
		Builder:        compliance.NewRecordBuilder(),
		Chain:          chainSvc,
		XMLGen:         aeat.NewXMLBuilderService(),
		Validator:      aeat.NewStructuralValidator(),
		Submitter:      submitter,
		Notifier:       notifier,
		Metrics:        promMetrics,
		Logger:         log.Component("orchestrator").Zerolog(),
		AutoSend:       cfg.VeriFactu.AutoSend,
	})

	companyUC := billing.NewCompanyUseCase(companyRepo)
	customerUC := billing.NewCustomerUseCase(customerRepo)
	invoiceUC := billing.NewInvoiceUseCase(invoiceRepo, customerRepo, recordRepo, submissionRepo)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs. El middleware hace
	// os.Stat del fichero al montarse y entra en pánico si falta, así que solo
	// se monta cuando el fichero existe.
	const swaggerFile = "./docs/swagger.json"
	if _, err := os.Stat(swaggerFile); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: swaggerFile,
			Path:     "docs",
			Title:    "Facturia VERI*FACTU API",
		}))
	} else {
		log.Warn().Str("file", swaggerFile).Msg("swagger.json no encontrado; /docs desactivado")
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		CompanyUC:    companyUC,
		CustomerUC:   customerUC,
		InvoiceUC:    invoiceUC,
		Orchestrator: orchestrator,
		ChainService: chainSvc,
		CompanyRepo:  companyRepo,
		RecordRepo:   recordRepo,
		Receipts:     infrapdf.NewMarotoReceiptGenerator(),
		JWTSecret:    cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	// Esperar los ciclos VERI*FACTU en vuelo: un eslabón comprometido debe
	// terminar su envío o quedar en un estado recuperable.
	orchestrator.Wait()

	log.Info().Msg("aplicación detenida")
}
