package models

import "time"

// ListItem is the minimal projection used to page through local records.
type ListItem struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

type Listing struct {
	ID          int64            `json:"id" yaml:"id"`
	Title       string           `json:"title" yaml:"title"`
	Description string           `json:"description" yaml:"description"`
	Reference   string           `json:"reference" yaml:"reference"`
	Price       float64          `json:"price" yaml:"price"`
	Address     string           `json:"address" yaml:"address"`
	City        string           `json:"city" yaml:"city"`
	Bedrooms    int              `json:"bedrooms" yaml:"bedrooms"`
	Bathrooms   int              `json:"bathrooms" yaml:"bathrooms"`
	Area        float64          `json:"area" yaml:"area"`
	AgencyID    int64            `json:"agency_id" yaml:"agency_id"`
	Trashed     bool             `json:"trashed" yaml:"-"`
	Terms       map[string]int64 `json:"terms,omitempty" yaml:"-"`
	CreatedAt   time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"-"`
}

// Label is the human readable name used in progress records.
func (l *Listing) Label() string {
	if l.Title != "" {
		return l.Title
	}
	return "Listing #" + itoa(l.ID)
}

type Term struct {
	ID          int64  `json:"id" yaml:"id"`
	Taxonomy    string `json:"taxonomy" yaml:"taxonomy"`
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug" yaml:"slug"`
	Description string `json:"description" yaml:"description"`
	ParentID    int64  `json:"parent_id" yaml:"parent_id"`
}

type Agency struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Email     string    `json:"email" yaml:"email"`
	Phone     string    `json:"phone" yaml:"phone"`
	Website   string    `json:"website" yaml:"website"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

type User struct {
	ID        int64     `json:"id" yaml:"id"`
	Email     string    `json:"email" yaml:"email"`
	FirstName string    `json:"first_name" yaml:"first_name"`
	LastName  string    `json:"last_name" yaml:"last_name"`
	Phone     string    `json:"phone" yaml:"phone"`
	Role      string    `json:"role" yaml:"role"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// IsAdmin reports whether the user holds the administrator role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdministrator
}

// DisplayName joins first and last name, falling back to the email.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Email
	}
	return name
}
