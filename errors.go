// errors.go
package inmotechcitas

import (
	"errors"
	"fmt"
)

// ErrNoEncontrado is returned when a referenced record does not exist.
var ErrNoEncontrado = errors.New("registro no encontrado")

// ErrHorarioNoDisponible is returned when the requested slot overlaps an
// active appointment for the same property and date.
var ErrHorarioNoDisponible = errors.New("ya existe una cita programada para este inmueble en el horario seleccionado")

// ErrInvalidInput is returned when the input fails validation.
var ErrInvalidInput = errors.New("entrada inválida")

// ErrUnauthorized is returned when the current subject lacks permissions.
var ErrUnauthorized = errors.New("no autorizado")

// ErrSinDestino is returned when a notification carries neither a role nor
// a person destination.
var ErrSinDestino = errors.New("debe especificar al menos un destinatario (rol o persona)")

// CampoError es un error de validación atado a un campo concreto; la capa
// HTTP lo serializa en la lista `errors` del sobre de respuesta.
type CampoError struct {
	Campo   string `json:"field"`
	Mensaje string `json:"message"`
}

// ValidacionError agrupa los errores por campo de una petición.
type ValidacionError struct {
	Campos []CampoError
}

func (e *ValidacionError) Error() string {
	if len(e.Campos) == 1 {
		return fmt.Sprintf("validación fallida: %s", e.Campos[0].Mensaje)
	}
	return fmt.Sprintf("validación fallida en %d campos", len(e.Campos))
}

// NotFoundError lleva el mensaje exacto de la entidad ausente y responde a
// errors.Is(err, ErrNoEncontrado).
type NotFoundError struct {
	Mensaje string
}

func (e *NotFoundError) Error() string { return e.Mensaje }

func (e *NotFoundError) Is(target error) bool { return target == ErrNoEncontrado }

// NoEncontrado builds a NotFoundError with the given message.
func NoEncontrado(mensaje string) error {
	return &NotFoundError{Mensaje: mensaje}
}
