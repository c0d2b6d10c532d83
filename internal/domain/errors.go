package domain

import "errors"

var (
	ErrRunActive      = errors.New("a generation run is already active")
	ErrCooldown       = errors.New("previous run ended too recently")
	ErrPresetNotFound = errors.New("preset not found")
	ErrNoWorkflow     = errors.New("preset has no workflow defined")
	ErrWorkspace      = errors.New("workspace path invalid")
)
