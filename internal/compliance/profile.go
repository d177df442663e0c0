package compliance

import (
	"context"
	"fmt"

	api "github.com/OvyFlash/telegram-bot-api"
)

type MissingItem string

const (
	MissingPhoto  MissingItem = "photo"
	MissingHandle MissingItem = "handle"
)

type (
	ProfileCheck struct {
		HasPhoto  bool
		HasHandle bool
	}

	exemptionChecker interface {
		IsExempt(ctx context.Context, userID int64) (bool, error)
	}

	photoCounter interface {
		GetProfilePhotoCount(ctx context.Context, userID int64) (int, error)
	}

	// ProfileEvaluator decides whether a user has a public photo and handle.
	// Exempted users count as having a photo without any remote lookup.
	ProfileEvaluator struct {
		exemptions exemptionChecker
		photos     photoCounter
	}
)

func NewProfileEvaluator(exemptions exemptionChecker, photos photoCounter) *ProfileEvaluator {
	return &ProfileEvaluator{exemptions: exemptions, photos: photos}
}

func (p ProfileCheck) IsComplete() bool {
	return p.HasPhoto && p.HasHandle
}

// MissingItems lists what the user still has to set, photo first.
func (p ProfileCheck) MissingItems() []MissingItem {
	var items []MissingItem
	if !p.HasPhoto {
		items = append(items, MissingPhoto)
	}
	if !p.HasHandle {
		items = append(items, MissingHandle)
	}
	return items
}

func (e *ProfileEvaluator) CheckProfile(ctx context.Context, user *api.User) (ProfileCheck, error) {
	check := ProfileCheck{HasHandle: user.UserName != ""}

	exempt, err := e.exemptions.IsExempt(ctx, user.ID)
	if err != nil {
		return ProfileCheck{}, fmt.Errorf("check exemption: %w", err)
	}
	if exempt {
		check.HasPhoto = true
		return check, nil
	}

	count, err := e.photos.GetProfilePhotoCount(ctx, user.ID)
	if err != nil {
		return ProfileCheck{}, err
	}
	check.HasPhoto = count > 0
	return check, nil
}
