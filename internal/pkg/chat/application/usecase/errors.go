package usecase

import "fmt"

// ErrPersistence indicates an infrastructure/repository failure inside a use case
var ErrPersistence = fmt.Errorf("chat use case persistence error")

// ErrDirectory indicates the user directory itself failed (as opposed to a
// lookup that cleanly found nothing)
var ErrDirectory = fmt.Errorf("chat use case directory error")
