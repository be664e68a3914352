package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)

func mkBar(i int, close float64) Bar {
	return Bar{
		Time:   day0.AddDate(0, 0, i),
		Open:   close,
		High:   close + 1,
		Low:    close - 1,
		Close:  close,
		Volume: 100,
	}
}

func TestLoadFreezesCopy(t *testing.T) {
	bars := []Bar{mkBar(0, 10), mkBar(1, 11), mkBar(2, 12)}
	feed, err := Load("AAPL", bars)
	require.NoError(t, err)

	bars[0].Close = 99
	assert.Equal(t, 10.0, feed.At(0).Close)
	assert.Equal(t, 3, feed.Len())
	assert.Equal(t, "AAPL", feed.Symbol())
	assert.Equal(t, 12.0, feed.Last().Close)
	assert.Equal(t, []float64{10, 11, 12}, feed.Closes())
}

func TestWindowIsClipped(t *testing.T) {
	feed, err := Load("X", []Bar{mkBar(0, 10), mkBar(1, 11), mkBar(2, 12)})
	require.NoError(t, err)

	w := feed.Window(1)
	require.Len(t, w, 2)
	assert.Equal(t, 2, cap(w))
	assert.Len(t, feed.Window(10), 3)
	assert.Nil(t, feed.Window(-1))
}

func TestLoadRejectsBadInput(t *testing.T) {
	dup := mkBar(1, 11)
	dup.Time = day0
	nanClose := mkBar(1, 11)
	nanClose.Close = math.NaN()
	inverted := mkBar(1, 11)
	inverted.High, inverted.Low = 5, 20
	negVol := mkBar(1, 11)
	negVol.Volume = -1
	noTime := mkBar(1, 11)
	noTime.Time = time.Time{}
	zeroLow := mkBar(1, 11)
	zeroLow.Low = 0

	cases := []struct {
		name  string
		bars  []Bar
		index int
		want  error
	}{
		{"empty", nil, -1, ErrEmptyFeed},
		{"duplicate timestamp", []Bar{mkBar(0, 10), dup}, 1, ErrOutOfOrder},
		{"out of order", []Bar{mkBar(2, 10), mkBar(1, 11)}, 1, ErrOutOfOrder},
		{"nan close", []Bar{mkBar(0, 10), nanClose}, 1, ErrInvalidBar},
		{"high below low", []Bar{mkBar(0, 10), inverted}, 1, ErrInvalidBar},
		{"negative volume", []Bar{mkBar(0, 10), negVol}, 1, ErrInvalidBar},
		{"missing timestamp", []Bar{noTime}, 0, ErrInvalidBar},
		{"non-positive low", []Bar{mkBar(0, 10), zeroLow}, 1, ErrInvalidBar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load("X", tc.bars)
			require.Error(t, err)
			var de *DataError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.index, de.Index)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsDataError(err))
		})
	}
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval(" 1D ")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, iv.Duration)

	iv, err = ParseInterval("7d")
	require.NoError(t, err)
	assert.Equal(t, "1w", iv.Key)

	_, err = ParseInterval("2x")
	require.Error(t, err)
	assert.True(t, IsDataError(err))
	assert.ErrorIs(t, err, ErrUnknownInterval)

	keys := SupportedIntervals()
	assert.Equal(t, "1m", keys[0])
	assert.Equal(t, "1w", keys[len(keys)-1])
}

func TestIntervalAlignRange(t *testing.T) {
	iv, _ := ParseInterval("1h")
	hour := int64(time.Hour / time.Millisecond)
	start, end := iv.AlignRange(5*hour+123, 2*hour+7)
	assert.Equal(t, 2*hour, start)
	assert.Equal(t, 5*hour, end)
	assert.Equal(t, int64(4), iv.ExpectedBars(start, end))
	assert.Equal(t, int64(0), iv.ExpectedBars(end, start))
}

func TestNewDataErrorKeepsExisting(t *testing.T) {
	orig := &DataError{Op: "fetch", Index: -1, Err: ErrEmptyFeed}
	assert.Same(t, orig, NewDataError("other", "X", orig))
	assert.Nil(t, NewDataError("x", "y", nil))
	assert.Contains(t, NewDataError("fetch", "AAPL", assert.AnError).Error(), "data error (fetch) AAPL")
}
