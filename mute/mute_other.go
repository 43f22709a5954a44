//go:build !linux && !darwin

package mute

func New() Muter { return Noop{} }
