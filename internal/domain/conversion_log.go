package domain

import "time"

type ConversionLog struct {
	UserID          string
	StoryID         string
	Layout          string
	PixelsProcessed int64
	BytesIn         int64
	BytesOut        int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
