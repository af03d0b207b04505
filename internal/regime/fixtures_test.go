package regime

import (
	"fmt"
	"math"
	"time"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

var fixtureStart = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// trendingSeries builds n daily candles compounding at growth per bar with a 1% high-low range.
// Volumes alternate 1000/1200 and the last bar's volume is lastVolume.
func trendingSeries(n int, growth, lastVolume float64) interfaces.Series {
	s := make(interfaces.Series, n)
	prev := 100.0
	for i := 0; i < n; i++ {
		c := 100 * math.Pow(1+growth, float64(i))
		vol := 1000.0
		if i%2 == 1 {
			vol = 1200
		}
		s[i] = interfaces.Candle{
			Timestamp: fixtureStart.AddDate(0, 0, i),
			Open:      prev,
			High:      c * 1.005,
			Low:       c * 0.995,
			Close:     c,
			Volume:    vol,
		}
		prev = c
	}
	s[n-1].Volume = lastVolume
	return s
}

// basket returns up assets trending up and down assets trending down
func basket(up, down int) map[string]interfaces.Series {
	b := make(map[string]interfaces.Series)
	for i := 0; i < up; i++ {
		b[fmt.Sprintf("UP%d", i)] = trendingSeries(60, 0.002, 1000)
	}
	for i := 0; i < down; i++ {
		b[fmt.Sprintf("DN%d", i)] = trendingSeries(60, -0.002, 1000)
	}
	return b
}

func ptr(v float64) *float64 { return &v }
