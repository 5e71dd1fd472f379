// Package profile talks to the profile directory that owns display
// identity. The messaging data model stays role-agnostic; this
// projection only decorates list views.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnavailable marks failures talking to the profile directory, so
// callers can report a collaborator outage rather than their own.
var ErrUnavailable = errors.New("profile directory unavailable")

// Profile is the public identity projection of a user.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsAnonymous bool   `json:"is_anonymous"`
	Role        string `json:"role"`
}

// Label returns the name shown to counterparts, honoring anonymity.
func (p Profile) Label() string {
	if p.IsAnonymous {
		if p.Role == "club" {
			return "Anonieme club"
		}
		return "Anonieme speler"
	}
	if p.DisplayName == "" {
		return "Onbekend"
	}
	return p.DisplayName
}

// Directory resolves user ids to profiles.
type Directory interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
	BulkProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
}

// Client is a REST client for the profile directory.
type Client struct {
	http *resty.Client
}

// NewClient constructs a Client for the given directory base URL.
func NewClient(baseURL, apiKey string) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("apikey", apiKey)
	}
	return &Client{http: client}
}

// GetProfile fetches a single profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	profiles, err := c.BulkProfiles(ctx, []string{userID})
	if err != nil {
		return Profile{}, err
	}
	p, ok := profiles[userID]
	if !ok {
		return Profile{}, fmt.Errorf("profile not found: %s", userID)
	}
	return p, nil
}

// BulkProfiles fetches several profiles in one call. Unknown ids are
// simply absent from the result.
func (c *Client) BulkProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	result := make(map[string]Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	var profiles []Profile
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("select", "user_id,display_name,is_anonymous,role").
		SetQueryParam("user_id", "in.("+strings.Join(userIDs, ",")+")").
		SetResult(&profiles).
		Get("/profiles_player")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode())
	}

	for _, p := range profiles {
		result[p.UserID] = p
	}
	return result, nil
}
