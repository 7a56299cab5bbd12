// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/downlink-systems/downlink/telemetry"
)

// Theme is the color palette for the watch UI. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	HeaderForeground lipgloss.Color
	HelpText         lipgloss.Color

	// Connection status indicator.
	Connected    lipgloss.Color
	Disconnected lipgloss.Color
	Error        lipgloss.Color

	// Download states.
	StateStarting    lipgloss.Color
	StateDownloading lipgloss.Color

	// Filter prompt.
	FilterActive lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText:       lipgloss.Color("252"),
	FaintText:        lipgloss.Color("243"),
	HeaderForeground: lipgloss.Color("39"),
	HelpText:         lipgloss.Color("241"),
	Connected:        lipgloss.Color("42"),
	Disconnected:     lipgloss.Color("214"),
	Error:            lipgloss.Color("203"),
	StateStarting:    lipgloss.Color("228"),
	StateDownloading: lipgloss.Color("42"),
	FilterActive:     lipgloss.Color("99"),
}

// StatusColor returns the indicator color for a connection status.
func (theme Theme) StatusColor(status telemetry.Status) lipgloss.Color {
	switch status {
	case telemetry.StatusConnected:
		return theme.Connected
	case telemetry.StatusError:
		return theme.Error
	default:
		return theme.Disconnected
	}
}

// StateColor returns the color for a download state.
func (theme Theme) StateColor(state telemetry.State) lipgloss.Color {
	switch state {
	case telemetry.StateStarting:
		return theme.StateStarting
	case telemetry.StateDownloading:
		return theme.StateDownloading
	default:
		return theme.FaintText
	}
}
