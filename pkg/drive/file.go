package drive

import (
	"time"
)

// File is the metadata of a remote object, either a folder or a regular file.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType,omitempty"`
	Parents      []string  `json:"parents,omitempty"`
	CreatedTime  time.Time `json:"createdTime"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         int64     `json:"size,string,omitempty"`
	Trashed      bool      `json:"trashed,omitempty"`
}

func (f *File) IsFolder() bool {
	return f.MimeType == MimeTypeFolder
}

// FileList is the result of a search.
type FileList struct {
	Files         []*File `json:"files"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Metadata is the writable subset of a File.
type Metadata struct {
	Name     string   `json:"name,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

// UserInfo describes the owner of the credential.
type UserInfo struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	PhotoLink    string `json:"photoLink"`
	PermissionID string `json:"permissionId"`
	// Known is false when the service did not report a user.
	Known bool `json:"-"`
}

// DefaultUserInfo is returned when the service reports no user.
func DefaultUserInfo() UserInfo {
	return UserInfo{
		DisplayName: "unknown",
	}
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	OrderBy string
	// PageSize limits the result to a single page; zero lists everything.
	PageSize int
	Fields   string
}
