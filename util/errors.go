package util

import "fmt"

func NewBufferpoolExhaustedError() *BufferpoolExhaustedError {
	return &BufferpoolExhaustedError{
		&GraniteError{Message: "bufferpool exhausted: all frames pinned"},
	}
}

func NewKeyNotFoundError(key any) *KeyNotFoundError {
	return &KeyNotFoundError{
		&GraniteError{Message: fmt.Sprintf("key not found: %v", key)},
	}
}

func NewDuplicateKeyError(key any) *DuplicateKeyError {
	return &DuplicateKeyError{
		&GraniteError{Message: fmt.Sprintf("duplicate key: %v", key)},
	}
}

type GraniteError struct {
	Message string
	Err     error
}

func (e *GraniteError) Error() string {
	return e.Message
}

func (e *GraniteError) Unwrap() error {
	return e.Err
}

type BufferpoolExhaustedError struct {
	*GraniteError
}

type KeyNotFoundError struct {
	*GraniteError
}

type DuplicateKeyError struct {
	*GraniteError
}
