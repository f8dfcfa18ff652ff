package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/facturia/verifactu-api/internal/application/billing"
	"github.com/facturia/verifactu-api/internal/application/compliance"
	"github.com/facturia/verifactu-api/internal/domain/repository"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	CompanyUC    *billing.CompanyUseCase
	CustomerUC   *billing.CustomerUseCase
	InvoiceUC    *billing.InvoiceUseCase
	Orchestrator *compliance.Orchestrator
	ChainService *compliance.ChainService
	CompanyRepo  repository.CompanyRepository
	RecordRepo   repository.RecordRepository
	Receipts     compliance.ReceiptGenerator
	JWTSecret    string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	// Prometheus en la raíz, fuera de /api y sin auth (lo consume el scraper).
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Companies (alta pública; el resto de operaciones van con token)
	companies := api.Group("/companies")
	companyHandler := NewCompanyHandler(deps.CompanyUC)
	companies.Post("/", companyHandler.Create)
	companies.Get("/:id", companyHandler.GetByID)

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Customers (protegido)
	customers := protected.Group("/customers")
	customerHandler := NewCustomerHandler(deps.CustomerUC)
	customers.Post("/", RequireRole("admin", "facturador"), customerHandler.Create)
	customers.Get("/:id", customerHandler.GetByID)

	// Invoices (protegido)
	invoices := protected.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.InvoiceUC)
	invoices.Post("/", RequireRole("admin", "facturador"), invoiceHandler.Create)
	invoices.Get("/:id", invoiceHandler.GetByID)

	// Ciclo VERI*FACTU (protegido)
	complianceHandler := NewComplianceHandler(
		deps.Orchestrator, deps.ChainService, deps.InvoiceUC,
		deps.CompanyRepo, deps.RecordRepo, deps.Receipts,
	)
	invoices.Post("/:id/verifactu", RequireRole("admin", "facturador"), complianceHandler.Process)
	invoices.Get("/:id/verifactu", complianceHandler.Status)
	invoices.Post("/:id/verifactu/retry", RequireRole("admin", "facturador"), complianceHandler.Retry)
	invoices.Post("/:id/verifactu/poll", complianceHandler.Poll)
	invoices.Post("/:id/verifactu/cancel", RequireRole("admin"), complianceHandler.Cancel)
	invoices.Post("/:id/verifactu/amend", RequireRole("admin", "facturador"), complianceHandler.Amend)
	invoices.Get("/:id/verifactu/receipt", complianceHandler.Receipt)

	protected.Get("/companies/:id/verifactu/chain", complianceHandler.VerifyChain)
}
