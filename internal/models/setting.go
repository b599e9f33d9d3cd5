package models

// Setting is one row of the process-wide key/value configuration
// (cursor, pause flag, default session, transport credentials).
type Setting struct {
	Key   string `gorm:"primaryKey;column:setting_key;size:64"`
	Value string `gorm:"type:text"`
}
