package db

import "time"

type IdentityModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	CompositeID  string    `gorm:"uniqueIndex;not null"`
	Jurisdiction string    `gorm:"size:2;not null"`
	Token        string    `gorm:"index;not null"`
	OwnerUserID  string    `gorm:"index;not null"`
	Status       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	VerifiedAt   *time.Time
}

func (IdentityModel) TableName() string {
	return "identities"
}

type AuditEventModel struct {
	ID                string    `gorm:"primaryKey"`
	IdentityID        string    `gorm:"type:uuid;index:idx_audit_events_identity_seq,unique;not null"`
	Seq               int64     `gorm:"index:idx_audit_events_identity_seq,unique;not null"`
	Jurisdiction      string    `gorm:"size:2;not null"`
	Category          string    `gorm:"index;not null"`
	Severity          string    `gorm:"not null"`
	ActorUserID       string    `gorm:"not null"`
	Description       string    `gorm:"not null"`
	PayloadJSON       []byte    `gorm:"type:jsonb;not null"`
	PayloadHash       string    `gorm:"not null"`
	EventTime         time.Time `gorm:"not null"`
	RecordedAt        time.Time `gorm:"not null"`
	UTCOffsetMinutes  int       `gorm:"not null"`
	IPAddress         *string
	UserAgent         *string
	Geolocation       *string
	DeviceFingerprint *string
	LegalBasis        *string
	ConsentGiven      bool   `gorm:"not null"`
	RetentionDays     int    `gorm:"not null"`
	PrevHash          string `gorm:"not null;default:''"`
	EventHash         string `gorm:"index;not null"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

type ChainSeqModel struct {
	IdentityID string    `gorm:"type:uuid;primaryKey"`
	Seq        int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (ChainSeqModel) TableName() string {
	return "identity_chain_seq"
}

type ComplianceReportModel struct {
	ID                 string    `gorm:"type:uuid;primaryKey"`
	IdentityID         string    `gorm:"type:uuid;index;not null"`
	CompositeID        string    `gorm:"not null"`
	ReportType         string    `gorm:"index;not null"`
	GeneratedAt        time.Time `gorm:"not null"`
	ValidUntil         time.Time `gorm:"not null"`
	WindowStart        time.Time `gorm:"not null"`
	WindowEnd          time.Time `gorm:"not null"`
	EventCountsJSON    []byte    `gorm:"type:jsonb;not null"`
	SeverityCountsJSON []byte    `gorm:"type:jsonb;not null"`
	MerkleRoot         string    `gorm:"not null;default:''"`
	TamperEvident      bool      `gorm:"not null"`
	IntegrityDetail    *string
	FlagsJSON          []byte `gorm:"type:jsonb;not null"`
	ReportHash         string `gorm:"not null"`
}

func (ComplianceReportModel) TableName() string {
	return "compliance_reports"
}
