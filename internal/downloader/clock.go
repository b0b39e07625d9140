package downloader

import "time"

// Clock supplies the loop's notion of now. Cadences are derived from it so
// tests can step time explicitly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
