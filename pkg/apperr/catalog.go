package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code defines a canonical error code shared by the HTTP API and MCP tools.
type Code string

const (
	// Input & auth
	Validation       Code = "VALIDATION"
	Unauthorized     Code = "UNAUTHORIZED"
	PermissionDenied Code = "PERMISSION_DENIED"
	CursorInvalid    Code = "CURSOR_INVALID"

	// Workbook content
	InvalidWorkbook   Code = "INVALID_WORKBOOK"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	RowValidation     Code = "ROW_VALIDATION"

	// Merge & storage
	MergePolicy        Code = "MERGE_POLICY"
	StorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// Resource & limits
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	Internal Code = "INTERNAL"
)

// Entry documents a code's standard message, HTTP status, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Status    int
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:       {Code: Validation, Message: "parámetros inválidos", Status: http.StatusBadRequest, Retryable: true, NextSteps: []string{"Corrige los parámetros y reintenta"}},
	Unauthorized:     {Code: Unauthorized, Message: "No autorizado", Status: http.StatusUnauthorized, NextSteps: []string{"Envía la clave de administrador en x-admin-key"}},
	PermissionDenied: {Code: PermissionDenied, Message: "ruta no permitida", Status: http.StatusForbidden, NextSteps: []string{"Usa un archivo dentro de los directorios permitidos"}},
	CursorInvalid:    {Code: CursorInvalid, Message: "cursor inválido para el snapshot actual", Status: http.StatusBadRequest, Retryable: true, NextSteps: []string{"Reinicia la paginación desde la primera página"}},

	InvalidWorkbook:   {Code: InvalidWorkbook, Message: "el archivo no es un Excel válido", Status: http.StatusBadRequest, NextSteps: []string{"Revisa la vista previa y las columnas requeridas"}},
	UnsupportedFormat: {Code: UnsupportedFormat, Message: "formato de archivo no soportado", Status: http.StatusBadRequest, NextSteps: []string{"Convierte el archivo a .xlsx y reintenta"}},
	RowValidation:     {Code: RowValidation, Message: "hay filas inválidas en el archivo", Status: http.StatusBadRequest, NextSteps: []string{"Completa el Rut Base de las filas indicadas"}},

	MergePolicy:        {Code: MergePolicy, Message: "reemplazo inválido", Status: http.StatusBadRequest, NextSteps: []string{"Selecciona las bases que trae cada archivo o usa Agregar"}},
	StorageUnavailable: {Code: StorageUnavailable, Message: "el almacenamiento no respondió", Status: http.StatusServiceUnavailable, Retryable: true, NextSteps: []string{"Reintenta en unos segundos"}},

	BusyResource:    {Code: BusyResource, Message: "límite de solicitudes concurrentes alcanzado", Status: http.StatusServiceUnavailable, Retryable: true, NextSteps: []string{"Reintenta en unos segundos"}},
	Timeout:         {Code: Timeout, Message: "la operación excedió el tiempo límite", Status: http.StatusGatewayTimeout, Retryable: true, NextSteps: []string{"Reduce el tamaño del archivo o reintenta"}},
	LimitExceeded:   {Code: LimitExceeded, Message: "la operación excedió los límites configurados", Status: http.StatusRequestEntityTooLarge, NextSteps: []string{"Divide el archivo en cargas más pequeñas"}},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "el archivo excede el tamaño permitido", Status: http.StatusRequestEntityTooLarge, NextSteps: []string{"Sube archivos más pequeños"}},

	Internal: {Code: Internal, Message: "error inesperado", Status: http.StatusInternalServerError, Retryable: true},
}

// Lookup returns the catalog entry for a code, falling back to Internal.
func Lookup(code Code) Entry {
	if e, ok := catalog[code]; ok {
		return e
	}
	return catalog[Internal]
}

// Error is a coded, human-readable error. Message is safe to show to users;
// Err carries the underlying cause for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = Lookup(e.Code).Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with a message override.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and user message to a cause.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code of the first *Error in the chain, or Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// HTTPStatus maps an error to its HTTP status.
func HTTPStatus(err error) int {
	return Lookup(CodeOf(err)).Status
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return Lookup(e.Code).Message
	}
	return Lookup(Internal).Message
}

// normalize builds a standard error string including next steps for MCP clients that
// surface only a message string. Format: "CODE: message" followed by a guidance tail.
func normalize(code Code, msg string) string {
	e := Lookup(code)
	base := strings.TrimSpace(msg)
	if base == "" {
		base = e.Message
	}
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", code, base, guidance)
}

// ToolResult returns an MCP error result for err.
func ToolResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(CodeOf(err), Message(err)))
}

// Tool returns an MCP error result for a code and optional message override.
func Tool(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}
