package models

import "time"

// TrendPoint is one sample of cumulative transfer totals and current rates
type TrendPoint struct {
	ID            uint64    `boltholdKey:"ID" json:"-"`
	Timestamp     time.Time `json:"timestamp"`
	Uploaded      int64     `json:"uploaded"`
	Downloaded    int64     `json:"downloaded"`
	UploadSpeed   int64     `json:"upload_speed"`
	DownloadSpeed int64     `json:"download_speed"`
}
