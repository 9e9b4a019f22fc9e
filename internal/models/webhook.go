package models

import (
	"encoding/json"
	"strconv"
)

// Webhook actions accepted from the CRM.
const (
	WebhookListingCreated       = "listing.created"
	WebhookListingUpdated       = "listing.updated"
	WebhookListingDeleted       = "listing.deleted"
	WebhookListingStatusChanged = "listing.status_changed"
	WebhookTaxonomyCreated      = "taxonomy.created"
	WebhookTaxonomyUpdated      = "taxonomy.updated"
	WebhookTaxonomyDeleted      = "taxonomy.deleted"
	WebhookUserCreated          = "user.created"
	WebhookUserUpdated          = "user.updated"
	WebhookUserDeleted          = "user.deleted"
)

// Webhook result statuses.
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
	ResultDeleted = "deleted"
	ResultSkipped = "skipped"
)

// WebhookPayload is the body the CRM posts for every event.
type WebhookPayload struct {
	Action string          `json:"action"`
	UUID   string          `json:"uuid"`
	Data   json.RawMessage `json:"data"`
}

// WebhookResult describes what the reconciler did with an event.
type WebhookResult struct {
	Status  string `json:"status"`
	LocalID int64  `json:"local_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// RemoteRef is a nested {uuid, name} reference in webhook data.
type RemoteRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// ListingData is the listing body of a webhook.
type ListingData struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Reference   string     `json:"reference"`
	Price       float64    `json:"price"`
	Address     string     `json:"address"`
	City        string     `json:"city"`
	Bedrooms    int        `json:"bedrooms"`
	Bathrooms   int        `json:"bathrooms"`
	Area        float64    `json:"area"`
	AgencyUUID  string     `json:"agency_uuid"`
	Status      *RemoteRef `json:"status,omitempty"`
}

// TermData is the taxonomy term body of a webhook.
type TermData struct {
	Taxonomy    string `json:"taxonomy"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// UserData is the user body of a webhook.
type UserData struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
