package contacts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jyakam/proventas/sheetdb"
)

// Column names of the remote contact table. The set is closed: anything else
// found on a contact never leaves the process.
const (
	ColTelefono            = "TELEFONO"
	ColNombre              = "NOMBRE"
	ColEmail               = "EMAIL"
	ColIdentificacion      = "IDENTIFICACION"
	ColDireccion           = "DIRECCION"
	ColDireccion2          = "DIRECCION_2"
	ColCiudad              = "CIUDAD"
	ColPais                = "PAIS"
	ColEstadoDepartamento  = "ESTADO_DEPARTAMENTO"
	ColCodigoPostal        = "CODIGO_POSTAL"
	ColEtiqueta            = "ETIQUETA"
	ColTipoDeCliente       = "TIPO_DE_CLIENTE"
	ColTelefonoSecundario  = "NUMERO_DE_TELEFONO_SECUNDARIO"
	ColRespBot             = "RESP_BOT"
	ColFechaPrimerContacto = "FECHA_PRIMER_CONTACTO"
	ColFechaUltimoContacto = "FECHA_ULTIMO_CONTACTO"
	ColFechaCumpleanos     = "FECHA_DE_CUMPLEANOS"
	ColResumen             = "RESUMEN_ULTIMA_CONVERSACION"
	ColResumen2            = "RESUMEN_2"
	ColResumen3            = "RESUMEN_3"
	ColRowNumber           = "_RowNumber"
)

var dateColumns = map[string]bool{
	ColFechaPrimerContacto: true,
	ColFechaUltimoContacto: true,
	ColFechaCumpleanos:     true,
}

var legacyDateRe = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)

// ToRow serializes a contact for the remote store. Dates are coerced to ISO
// yyyy-mm-dd, RESP_BOT to the literal "TRUE"/"FALSE", empty date fields are
// dropped, and the row reference is only sent on Edit (Add must not carry
// one; Edit needs it so the remote knows which row to touch).
func ToRow(c Contact, action sheetdb.Action) sheetdb.Row {
	row := sheetdb.Row{}
	put := func(col, v string) {
		if v == "" {
			return
		}
		if dateColumns[col] {
			v = toISODate(v)
		}
		row[col] = v
	}

	put(ColTelefono, NormalizePhone(c.Telefono))
	put(ColNombre, c.Nombre)
	put(ColEmail, c.Email)
	put(ColIdentificacion, c.Identificacion)
	put(ColDireccion, c.Direccion)
	put(ColDireccion2, c.Direccion2)
	put(ColCiudad, c.Ciudad)
	put(ColPais, c.Pais)
	put(ColEstadoDepartamento, c.EstadoDepartamento)
	put(ColCodigoPostal, strings.TrimSpace(c.CodigoPostal))
	put(ColEtiqueta, c.Etiqueta)
	put(ColTipoDeCliente, c.TipoDeCliente)
	put(ColTelefonoSecundario, c.TelefonoSecundario)
	put(ColFechaPrimerContacto, c.FechaPrimerContacto)
	put(ColFechaUltimoContacto, c.FechaUltimoContacto)
	put(ColFechaCumpleanos, c.FechaCumpleanos)
	put(ColResumen, c.Resumen)
	put(ColResumen2, c.Resumen2)
	put(ColResumen3, c.Resumen3)

	row[ColRespBot] = boolLiteral(c.RespBot)

	if action == sheetdb.ActionEdit && c.RowNumber != "" {
		row[ColRowNumber] = c.RowNumber
	}
	return row
}

// FromRow parses a remote row back into a contact. Unknown columns are
// ignored; that is the non-goal of exact schema replication at work.
func FromRow(row sheetdb.Row) Contact {
	return Contact{
		Telefono:            NormalizePhone(row[ColTelefono]),
		Nombre:              row[ColNombre],
		Email:               row[ColEmail],
		Identificacion:      row[ColIdentificacion],
		Direccion:           row[ColDireccion],
		Direccion2:          row[ColDireccion2],
		Ciudad:              row[ColCiudad],
		Pais:                row[ColPais],
		EstadoDepartamento:  row[ColEstadoDepartamento],
		CodigoPostal:        row[ColCodigoPostal],
		Etiqueta:            row[ColEtiqueta],
		TipoDeCliente:       row[ColTipoDeCliente],
		TelefonoSecundario:  row[ColTelefonoSecundario],
		RespBot:             strings.EqualFold(strings.TrimSpace(row[ColRespBot]), "TRUE"),
		FechaPrimerContacto: toISODate(row[ColFechaPrimerContacto]),
		FechaUltimoContacto: toISODate(row[ColFechaUltimoContacto]),
		FechaCumpleanos:     toISODate(row[ColFechaCumpleanos]),
		Resumen:             row[ColResumen],
		Resumen2:            row[ColResumen2],
		Resumen3:            row[ColResumen3],
		RowNumber:           row[ColRowNumber],
	}
}

// toISODate coerces dd/mm/yyyy and dd-mm-yyyy to yyyy-mm-dd. Anything
// already ISO, or unrecognized, passes through untouched.
func toISODate(v string) string {
	s := strings.TrimSpace(v)
	m := legacyDateRe.FindStringSubmatch(s)
	if m == nil {
		return v
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
}

func boolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
