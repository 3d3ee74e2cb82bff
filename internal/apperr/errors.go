package apperr

import (
	"errors"
	"net/http"
)

// Code машиночитаемый код ошибки, который получает клиент
type Code string

const (
	CodeInvalidQR              Code = "INVALID_QR"
	CodeRideNotEligible        Code = "RIDE_NOT_ELIGIBLE"
	CodeRideNotFound           Code = "RIDE_NOT_FOUND"
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeInvalidCredentialScope Code = "INVALID_CREDENTIAL_SCOPE"
	CodeInvalidSeatNumber      Code = "INVALID_SEAT_NUMBER"
	CodeSeatAlreadyTaken       Code = "SEAT_ALREADY_TAKEN"
	CodeAlreadyBooked          Code = "ALREADY_BOOKED"
	CodeBookingNotAvailable    Code = "BOOKING_NOT_AVAILABLE"
	CodeForbidden              Code = "FORBIDDEN"
	CodeInvalidPayload         Code = "INVALID_PAYLOAD"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInternal               Code = "INTERNAL"
)

// Error ожидаемая (прикладная) ошибка. Такие ошибки возвращаются
// клиенту как есть и никогда не приводят к падению процесса.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с уточнёнными копиями
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage возвращает копию ошибки с уточнённым сообщением
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Err: e.Err}
}

// Wrap возвращает копию ошибки с причиной
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

var (
	ErrInvalidQR              = &Error{Code: CodeInvalidQR, Message: "QR-код не соответствует автобусу"}
	ErrRideNotEligible        = &Error{Code: CodeRideNotEligible, Message: "Поездка не поддерживает проверку QR-кода"}
	ErrRideNotFound           = &Error{Code: CodeRideNotFound, Message: "Поездка не найдена"}
	ErrTokenExpired           = &Error{Code: CodeTokenExpired, Message: "Срок действия подтверждения истёк, отсканируйте QR-код заново"}
	ErrInvalidCredentialScope = &Error{Code: CodeInvalidCredentialScope, Message: "Подтверждение выдано для другой поездки или пользователя"}
	ErrInvalidSeatNumber      = &Error{Code: CodeInvalidSeatNumber, Message: "Такого места нет в автобусе"}
	ErrSeatAlreadyTaken       = &Error{Code: CodeSeatAlreadyTaken, Message: "Место уже занято"}
	ErrAlreadyBooked          = &Error{Code: CodeAlreadyBooked, Message: "Вы уже забронировали место в этой поездке"}
	ErrBookingNotAvailable    = &Error{Code: CodeBookingNotAvailable, Message: "Бронирование недоступно для этой поездки"}
	ErrForbidden              = &Error{Code: CodeForbidden, Message: "Недостаточно прав"}
	ErrInvalidPayload         = &Error{Code: CodeInvalidPayload, Message: "Неверный формат данных"}
	ErrNotFound               = &Error{Code: CodeNotFound, Message: "Не найдено"}
)

// CodeOf возвращает код прикладной ошибки или CodeInternal
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus сопоставляет ошибку с HTTP-статусом ответа
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeRideNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden, CodeBookingNotAvailable:
		return http.StatusForbidden
	case CodeSeatAlreadyTaken, CodeAlreadyBooked:
		return http.StatusConflict
	case CodeTokenExpired, CodeInvalidCredentialScope:
		return http.StatusUnauthorized
	case CodeInvalidQR, CodeRideNotEligible, CodeInvalidSeatNumber, CodeInvalidPayload:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
