package party

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PartnerType classifies a party. Flags are immutable after creation; they
// decide what a party may do (buy, be treated, be employed).
type PartnerType struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	IsCustomer   bool      `json:"is_customer" db:"is_customer"`
	IsPatient    bool      `json:"is_patient" db:"is_patient"`
	IsEmployee   bool      `json:"is_employee" db:"is_employee"`
	IsCompany    bool      `json:"is_company" db:"is_company"`
	IsIndividual bool      `json:"is_individual" db:"is_individual"`
	// SequenceCode names the reference sequence used to stamp new parties
	// of this type with a durable external code. Nil means no code.
	SequenceCode *string   `json:"sequence_code,omitempty" db:"sequence_code"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Party is any named entity in the directory: customer, patient (pet),
// employee, or company.
type Party struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	NameSecondary *string    `json:"name_secondary,omitempty" db:"name_secondary"`
	TypeID        uuid.UUID  `json:"type_id" db:"type_id"`
	Ref           *string    `json:"ref,omitempty" db:"ref"`
	Mobile        *string    `json:"mobile,omitempty" db:"mobile"`
	Phone         *string    `json:"phone,omitempty" db:"phone"`
	Email         *string    `json:"email,omitempty" db:"email"`
	GovID         *string    `json:"gov_id,omitempty" db:"gov_id"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	// OwnerID points a patient (pet) at its billing party.
	OwnerID   *uuid.UUID `json:"owner_id,omitempty" db:"owner_id"`
	Species   *string    `json:"species,omitempty" db:"species"`
	Breed     *string    `json:"breed,omitempty" db:"breed"`
	Microchip *string    `json:"microchip,omitempty" db:"microchip"`
	Deceased  bool       `json:"deceased" db:"deceased"`
	IsWalkin  bool       `json:"is_walkin" db:"is_walkin"`
	Active    bool       `json:"active" db:"active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// DisplayName renders the party name. Owned patients carry their owner in
// brackets unless the caller suppresses the suffix (owner-side lists would
// otherwise recurse).
func (p *Party) DisplayName(owner *Party, suppressOwnerSuffix bool) string {
	if p.OwnerID == nil || owner == nil || suppressOwnerSuffix {
		return p.Name
	}
	return fmt.Sprintf("%s [%s]", p.Name, owner.Name)
}

// Age returns whole years since date of birth, or 0 when unknown.
func (p *Party) Age(now time.Time) int {
	if p.DateOfBirth == nil {
		return 0
	}
	years := now.Year() - p.DateOfBirth.Year()
	if now.YearDay() < p.DateOfBirth.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
