package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

// ContentHash returns the sha256 of the canonical encoding of a series.
// Each candle is encoded as unix-nanos,open,high,low,close,volume followed by a newline,
// with floats in shortest round-trip form, so the hash is independent of storage backend.
func ContentHash(series interfaces.Series) string {
	h := sha256.New()
	buf := make([]byte, 0, 128)
	for _, c := range series {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, c.Timestamp.UnixNano(), 10)
		for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
			buf = append(buf, ',')
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
