package db

import (
	"errors"

	"gorm.io/gorm"
)

// IsNotFound reports whether err is a GORM record-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
