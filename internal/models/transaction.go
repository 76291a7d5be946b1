package models

import (
	"time"

	"gorm.io/datatypes"
)

// Transaction records a single applied debit against a key.
type Transaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	KeyCode string `gorm:"type:text;not null;index"` // Wallet code that was charged.
	UserID  string `gorm:"type:text;not null;index"` // Owning user identity.

	Provider string `gorm:"type:text;not null;index"` // Provider name.
	Model    string `gorm:"type:text;index"`          // Model name, when reported.

	InputUnits  int64 `gorm:"not null;default:0"` // Input unit count (tokens or characters).
	OutputUnits int64 `gorm:"not null;default:0"` // Output unit count.

	CostMicros      int64 `gorm:"not null;default:0"` // Charged amount in micro-USD.
	RemainingMicros int64 `gorm:"not null;default:0"` // Remaining balance after the debit.

	Description string         `gorm:"type:text"`  // Caller-supplied description.
	Detail      datatypes.JSON `gorm:"type:jsonb"` // Structured request detail JSON.

	RequestedAt time.Time `gorm:"not null;index"`          // Debit timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
