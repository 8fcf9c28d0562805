package storage

import "github.com/rotisserie/eris"

var (
	// ErrProviderNotFound is returned when no active provider matches
	ErrProviderNotFound = eris.New("provider not found")

	// ErrOrganizationNotFound is returned when an organization does not exist
	ErrOrganizationNotFound = eris.New("organization not found")

	// ErrCiphertextChanged is returned when a conditional key update finds the
	// stored key no longer matches the one it read
	ErrCiphertextChanged = eris.New("provider key changed concurrently")
)
