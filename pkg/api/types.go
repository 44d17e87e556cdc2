package api

import (
	"github.com/platinummonkey/gallery/pkg/pictures"
	"github.com/platinummonkey/gallery/pkg/spaces"
)

// maxJSONBody caps JSON request bodies
const maxJSONBody = 1 << 20

// CreateSpaceRequest is the body of POST /spaces
type CreateSpaceRequest struct {
	Name  string `json:"name" validate:"omitempty"`
	Type  string `json:"type" validate:"omitempty,oneof=private team"`
	Level string `json:"level" validate:"omitempty,oneof=common professional flagship"`
}

func (r CreateSpaceRequest) toDomain() spaces.CreateRequest {
	return spaces.CreateRequest{
		Name:  r.Name,
		Type:  spaces.Type(r.Type),
		Level: spaces.Level(r.Level),
	}
}

// UpdateSpaceRequest is the body of PATCH /spaces/{id}
type UpdateSpaceRequest struct {
	Name     *string `json:"name" validate:"omitempty"`
	Level    *string `json:"level" validate:"omitempty,oneof=common professional flagship"`
	MaxCount *int64  `json:"max_count" validate:"omitempty,gte=0"`
	MaxBytes *int64  `json:"max_bytes" validate:"omitempty,gte=0"`
}

func (r UpdateSpaceRequest) toDomain() spaces.UpdateRequest {
	req := spaces.UpdateRequest{
		Name:     r.Name,
		MaxCount: r.MaxCount,
		MaxBytes: r.MaxBytes,
	}
	if r.Level != nil {
		level := spaces.Level(*r.Level)
		req.Level = &level
	}
	return req
}

// AddMemberRequest is the body of POST /spaces/{id}/members
type AddMemberRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Role   string `json:"role" validate:"required"`
}

// UpdateMemberRequest is the body of PUT /spaces/{id}/members/{userId}
type UpdateMemberRequest struct {
	Role string `json:"role" validate:"required"`
}

// EditPictureRequest is the body of PATCH /pictures/{id}
type EditPictureRequest struct {
	Name         *string   `json:"name" validate:"omitempty,min=1"`
	Introduction *string   `json:"introduction" validate:"omitempty,max=2048"`
	Category     *string   `json:"category" validate:"omitempty,max=64"`
	Tags         *[]string `json:"tags"`
}

func (r EditPictureRequest) toDomain() pictures.EditRequest {
	req := pictures.EditRequest{
		Name:         r.Name,
		Introduction: r.Introduction,
		Category:     r.Category,
	}
	if r.Tags != nil {
		req.Tags = *r.Tags
		req.SetTags = true
	}
	return req
}

// CreateUserRequest is the body of POST /users
type CreateUserRequest struct {
	Account     string `json:"account" validate:"required,min=3,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Role        string `json:"role" validate:"omitempty,oneof=user admin"`
}

// SessionResponse is returned when a session is opened
type SessionResponse struct {
	Token     string `json:"token"`
	UserID    int64  `json:"user_id"`
	ExpiresIn int64  `json:"expires_in"`
}

// PermissionsResponse lists the caller's permissions in a space
type PermissionsResponse struct {
	SpaceID     int64    `json:"space_id"`
	Permissions []string `json:"permissions"`
}

// PictureList is a page of pictures
type PictureList struct {
	Pictures []*pictures.Picture `json:"pictures"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}
