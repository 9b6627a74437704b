/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package model

import "errors"

// Error kinds shared by every component. Callers wrap them with
// fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrNotFound means a referenced preset, session or document is absent.
	ErrNotFound = errors.New("not found")

	// ErrPermission means the caller does not own the preset or session.
	ErrPermission = errors.New("permission denied")

	// ErrValidation means the input is malformed.
	ErrValidation = errors.New("invalid input")

	// ErrTransientStore means the document store could not be reached.
	// It is safe to retry.
	ErrTransientStore = errors.New("document store unavailable")

	// ErrSubmission means an answer could not be written.
	ErrSubmission = errors.New("answer submission failed")
)
