package engine

import "time"

// errorWindow считает ошибки в скользящем окне.
// Окно начинается с первой ошибки и сбрасывается по таймауту или успеху.
type errorWindow struct {
	count       int
	windowStart time.Time
}

func (w *errorWindow) note(now time.Time, window time.Duration) int {
	if w.count == 0 || now.Sub(w.windowStart) > window {
		w.count = 0
		w.windowStart = now
	}
	w.count++
	return w.count
}

func (w *errorWindow) reset() {
	w.count = 0
}
