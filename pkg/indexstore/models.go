package indexstore

import "time"

// DataPoint represents one appended history data point.
type DataPoint struct {
	ID        uint   `gorm:"primaryKey"`
	Branch    string `gorm:"not null;uniqueIndex:idx_dp_branch_uuid"`
	UUID      string `gorm:"not null;uniqueIndex:idx_dp_branch_uuid"`
	Name      string
	Timestamp int64 `gorm:"index"`
	URL       string

	// Denormalized test stats.
	TestsTotal   int
	TestsFailed  int
	TestsBroken  int
	TestsPassed  int
	TestsSkipped int
	TestsUnknown int

	// Run metrics serialized as JSON.
	MetricsJSON string `gorm:"type:text"`

	IndexedAt time.Time
}

// TestRun is the outcome of one logical test within a data point.
type TestRun struct {
	ID        uint   `gorm:"primaryKey"`
	Branch    string `gorm:"not null;uniqueIndex:idx_tr_branch_uuid_hid;index:idx_tr_branch_hid"`
	UUID      string `gorm:"not null;uniqueIndex:idx_tr_branch_uuid_hid"`
	HistoryID string `gorm:"not null;uniqueIndex:idx_tr_branch_uuid_hid;index:idx_tr_branch_hid"`
	Name      string
	FullName  string
	Status    string `gorm:"index"`
	Message   string `gorm:"type:text"`
	Start     int64
	Stop      int64
	Duration  int64
	Timestamp int64
}
