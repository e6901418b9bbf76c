package util

import "time"

// Now é substituível em testes que precisam controlar o relógio.
var Now = func() time.Time {
	return time.Now().UTC()
}
