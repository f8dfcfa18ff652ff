package verifactu

import (
	"fmt"
	"strings"
)

// Letras de control del NIF/DNI según el algoritmo módulo 23 de la AEAT.
const nifControlLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

// Letras de control del CIF (entidades jurídicas). El dígito de control puede
// ser número o letra según la letra inicial de la entidad.
const cifControlLetters = "JABCDEFGHI"

// ValidateNIF valida un identificador fiscal español: DNI (8 dígitos + letra),
// NIE (X/Y/Z + 7 dígitos + letra) o CIF de entidad (letra + 7 dígitos + control).
// Acepta el valor con o sin guiones/espacios.
func ValidateNIF(nif string) error {
	n := normalize(nif)
	if n == "" {
		return fmt.Errorf("verifactu: NIF vacío")
	}
	if len(n) != 9 {
		return fmt.Errorf("verifactu: NIF debe tener 9 caracteres, se recibieron %d", len(n))
	}

	first := n[0]
	switch {
	case first >= '0' && first <= '9':
		return validateDNI(n)
	case first == 'X' || first == 'Y' || first == 'Z':
		return validateNIE(n)
	default:
		return validateCIF(n)
	}
}

// validateDNI comprueba la letra de control de un DNI (módulo 23).
func validateDNI(n string) error {
	var num int
	for i := 0; i < 8; i++ {
		if n[i] < '0' || n[i] > '9' {
			return fmt.Errorf("verifactu: DNI inválido: %q", n)
		}
		num = num*10 + int(n[i]-'0')
	}
	if expected := nifControlLetters[num%23]; n[8] != expected {
		return fmt.Errorf("verifactu: letra de control del DNI inválida: esperada %c, recibida %c", expected, n[8])
	}
	return nil
}

// validateNIE comprueba un NIE sustituyendo la letra inicial por su dígito (X=0, Y=1, Z=2).
func validateNIE(n string) error {
	replaced := string('0'+n[0]-'X') + n[1:]
	return validateDNI(replaced)
}

// validateCIF comprueba el dígito/letra de control de un CIF de entidad.
func validateCIF(n string) error {
	first := n[0]
	if !strings.ContainsRune("ABCDEFGHJNPQRSUVW", rune(first)) {
		return fmt.Errorf("verifactu: letra de entidad del CIF desconocida: %c", first)
	}
	var sum int
	for i := 1; i <= 7; i++ {
		d := n[i]
		if d < '0' || d > '9' {
			return fmt.Errorf("verifactu: CIF inválido: %q", n)
		}
		v := int(d - '0')
		if i%2 == 1 { // posiciones impares: doble y suma de dígitos
			v *= 2
			if v > 9 {
				v = v/10 + v%10
			}
		}
		sum += v
	}
	control := (10 - sum%10) % 10
	ctrlDigit := byte('0' + control)
	ctrlLetter := cifControlLetters[control]

	last := n[8]
	// K, P, Q, S exigen letra; el resto admite dígito o letra.
	if strings.ContainsRune("KPQS", rune(first)) {
		if last != ctrlLetter {
			return fmt.Errorf("verifactu: control del CIF inválido: esperada letra %c, recibido %c", ctrlLetter, last)
		}
		return nil
	}
	if last != ctrlDigit && last != ctrlLetter {
		return fmt.Errorf("verifactu: control del CIF inválido: esperado %c o %c, recibido %c", ctrlDigit, ctrlLetter, last)
	}
	return nil
}

func normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '.' {
			return -1
		}
		return r
	}, s)
}
