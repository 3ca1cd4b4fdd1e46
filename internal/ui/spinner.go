package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// SimpleSpinner is a non-interactive spinner for loading states
type SimpleSpinner struct {
	frames  []string
	current int
	message string
	done    chan bool
}

// NewSimpleSpinner creates a simple non-blocking spinner
func NewSimpleSpinner(message string) *SimpleSpinner {
	return &SimpleSpinner{
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		current: 0,
		message: message,
		done:    make(chan bool),
	}
}

// Start starts the spinner animation
func (s *SimpleSpinner) Start() {
	go func() {
		style := lipgloss.NewStyle().Foreground(PrimaryColor)
		for {
			select {
			case <-s.done:
				return
			default:
				fmt.Printf("\r  %s %s", style.Render(s.frames[s.current]), WhiteStyle.Render(s.message))
				s.current = (s.current + 1) % len(s.frames)
				time.Sleep(80 * time.Millisecond)
			}
		}
	}()
}

// Stop stops the spinner and clears the line
func (s *SimpleSpinner) Stop() {
	s.done <- true
	fmt.Print("\r\033[K")
}

// StopWithSuccess stops the spinner and shows a success message
func (s *SimpleSpinner) StopWithSuccess(message string) {
	s.done <- true
	fmt.Print("\r\033[K")
	fmt.Println(RenderStatus("success", message))
}

// StopWithError stops the spinner and shows an error message
func (s *SimpleSpinner) StopWithError(message string) {
	s.done <- true
	fmt.Print("\r\033[K")
	fmt.Println(RenderStatus("error", message))
}

// WithSpinner executes a function while showing a spinner
func WithSpinner(message string, fn func() error) error {
	spinner := NewSimpleSpinner(message)
	spinner.Start()
	err := fn()
	if err != nil {
		spinner.StopWithError(err.Error())
		return err
	}
	spinner.StopWithSuccess(message)
	return nil
}
