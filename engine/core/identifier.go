package core

import "github.com/google/uuid"

// Identifier is an opaque, process unique id handed out for GPU objects.
type Identifier = uuid.UUID

var InvalidIdentifier = uuid.Nil

func IdentifierAquireNewID() Identifier {
	return uuid.New()
}
