package profile

import (
	"encoding/json"

	"github.com/pbsnet/gateway/internal/platform"
)

// Attribute names of a profile document.
const (
	attrFullName     = "full_name"
	attrUsername     = "username"
	attrEmail        = "email"
	attrMobile       = "mobile"
	attrPostName     = "post_name"
	attrOfficeName   = "office_name"
	attrPbsName      = "pbs_name"
	attrAPIKey       = "api_key"
	attrProfilePicID = "profile_pic_id"
	attrPersonalJSON = "personal_json"
)

// Profile is a user's profile document. ID equals the identity id.
type Profile struct {
	ID           string
	FullName     string
	Username     string
	Email        string
	Mobile       string
	PostName     string
	OfficeName   string
	PbsName      string
	APIKey       string
	ProfilePicID string
	PersonalJSON map[string]any
}

// CoreUpdate holds the user-editable core fields. Nil fields are left untouched.
type CoreUpdate struct {
	FullName   *string `json:"full_name"`
	Mobile     *string `json:"mobile"`
	PostName   *string `json:"post_name"`
	OfficeName *string `json:"office_name"`
	PbsName    *string `json:"pbs_name"`
}

func (u CoreUpdate) patch() map[string]any {
	p := make(map[string]any)
	for attr, v := range map[string]*string{
		attrFullName:   u.FullName,
		attrMobile:     u.Mobile,
		attrPostName:   u.PostName,
		attrOfficeName: u.OfficeName,
		attrPbsName:    u.PbsName,
	} {
		if v != nil {
			p[attr] = *v
		}
	}
	return p
}

// SearchFilter narrows a profile search. Empty fields are ignored.
type SearchFilter struct {
	Pbs         string
	Office      string
	Mobile      string
	Designation string
	Username    string
	Name        string
}

func fromDocument(d *platform.Document) *Profile {
	return &Profile{
		ID:           d.ID,
		FullName:     d.String(attrFullName),
		Username:     d.String(attrUsername),
		Email:        d.String(attrEmail),
		Mobile:       d.String(attrMobile),
		PostName:     d.String(attrPostName),
		OfficeName:   d.String(attrOfficeName),
		PbsName:      d.String(attrPbsName),
		APIKey:       d.String(attrAPIKey),
		ProfilePicID: d.String(attrProfilePicID),
		PersonalJSON: DecodeBag(d.Data[attrPersonalJSON]),
	}
}

// DecodeBag interprets a stored JSON attribute bag. The platform stores bags
// as JSON strings; a missing or unparsable bag decodes to an empty object.
func DecodeBag(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{}
}

// EncodeBag serialises a bag for storage.
func EncodeBag(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
