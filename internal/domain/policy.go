package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Policy is one collected government support program announcement.
type Policy struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProgramID int64 `gorm:"column:program_id;not null;index" json:"program_id"`

	Region   string `gorm:"column:region;type:text;index" json:"region,omitempty"`
	Category string `gorm:"column:category;type:text;index" json:"category,omitempty"`

	ProgramName         string `gorm:"column:program_name;type:text;not null" json:"program_name"`
	ProgramOverview     string `gorm:"column:program_overview;type:text" json:"program_overview,omitempty"`
	SupportDescription  string `gorm:"column:support_description;type:text" json:"support_description,omitempty"`
	SupportBudget       int64  `gorm:"column:support_budget" json:"support_budget,omitempty"`
	SupportScale        string `gorm:"column:support_scale;type:text" json:"support_scale,omitempty"`
	SupervisingMinistry string `gorm:"column:supervising_ministry;type:text" json:"supervising_ministry,omitempty"`
	ApplyTarget         string `gorm:"column:apply_target;type:text" json:"apply_target,omitempty"`
	AnnouncementDate    string `gorm:"column:announcement_date;type:text" json:"announcement_date,omitempty"`
	BizProcess          string `gorm:"column:biz_process;type:text" json:"biz_process,omitempty"`
	ApplicationMethod   string `gorm:"column:application_method;type:text" json:"application_method,omitempty"`

	ContactAgency     datatypes.JSON `gorm:"column:contact_agency;type:jsonb" json:"contact_agency,omitempty"`
	ContactNumber     datatypes.JSON `gorm:"column:contact_number;type:jsonb" json:"contact_number,omitempty"`
	RequiredDocuments datatypes.JSON `gorm:"column:required_documents;type:jsonb" json:"required_documents,omitempty"`

	CollectedDate *time.Time `gorm:"column:collected_date;index" json:"collected_date,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (Policy) TableName() string { return "policy" }
