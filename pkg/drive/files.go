package drive

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	fileFields = "id,name,mimeType,parents,createdTime,modifiedTime,size,trashed"
	// largest page the files api hands out
	maxPageSize = 1000
)

// Search lists files matching q. With a PageSize only the first page is
// returned, otherwise all pages are followed.
func (c *Client) Search(ctx context.Context, q *Query, opts SearchOptions) ([]*File, error) {
	query := url.Values{}
	query.Set("q", q.String())
	if opts.OrderBy != "" {
		query.Set("orderBy", opts.OrderBy)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = maxPageSize
	}
	query.Set("pageSize", strconv.Itoa(pageSize))
	fields := opts.Fields
	if fields == "" {
		fields = "nextPageToken,files(" + fileFields + ")"
	}
	query.Set("fields", fields)

	var ret []*File
	for {
		resp, err := c.Do(ctx, &Request{
			Method: http.MethodGet,
			Path:   "/files",
			Query:  query,
		})
		if err != nil {
			return nil, err
		}

		var list FileList
		if _, err := DecodeJSON(resp.Body, &list); err != nil {
			return nil, err
		}
		ret = append(ret, list.Files...)
		if opts.PageSize > 0 || list.NextPageToken == "" {
			return ret, nil
		}
		query.Set("pageToken", list.NextPageToken)
	}
}

// CreateFolder creates a folder, below parent if given.
func (c *Client) CreateFolder(ctx context.Context, name, parent string) (*File, error) {
	md := Metadata{Name: name, MimeType: MimeTypeFolder}
	if parent != "" {
		md.Parents = []string{parent}
	}
	return c.createMetadata(ctx, md)
}

// Get fetches the metadata of a single file.
func (c *Client) Get(ctx context.Context, id string) (*File, error) {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/files/" + url.PathEscape(id),
		Query:  url.Values{"fields": {fileFields}},
	})
	if err != nil {
		return nil, err
	}
	return decodeFile(resp.Body)
}

// InitiateResumableCreate starts a resumable upload of a new file and returns the session uri.
func (c *Client) InitiateResumableCreate(ctx context.Context, md Metadata, contentType string, size int) (string, error) {
	return c.initiateResumable(ctx, http.MethodPost, "/files", md, contentType, size)
}

// InitiateResumableUpdate starts a resumable upload replacing the content of id.
func (c *Client) InitiateResumableUpdate(ctx context.Context, id string, md Metadata, contentType string, size int) (string, error) {
	return c.initiateResumable(ctx, http.MethodPatch, "/files/"+url.PathEscape(id), md, contentType, size)
}

// UploadSession sends the whole payload to a session uri. The remote
// service commits the object only once the payload is complete.
func (c *Client) UploadSession(ctx context.Context, sessionURI string, contentType string, data []byte) (*File, error) {
	resp, err := c.Do(ctx, &Request{
		Method:      http.MethodPut,
		Path:        sessionURI,
		Body:        data,
		ContentType: contentType,
	})
	if err != nil {
		return nil, err
	}
	return decodeFile(resp.Body)
}

// Download returns the raw content of a file.
func (c *Client) Download(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/files/" + url.PathEscape(id),
		Query:  url.Values{"alt": {"media"}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) Rename(ctx context.Context, id, name string) (*File, error) {
	body, err := json.Marshal(Metadata{Name: name})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	resp, err := c.Do(ctx, &Request{
		Method:      http.MethodPatch,
		Path:        "/files/" + url.PathEscape(id),
		Query:       url.Values{"fields": {fileFields}},
		Body:        body,
		ContentType: MimeTypeJSON,
	})
	if err != nil {
		return nil, err
	}
	return decodeFile(resp.Body)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.Do(ctx, &Request{
		Method: http.MethodDelete,
		Path:   "/files/" + url.PathEscape(id),
	})
	return err
}

// About returns the user owning the credential, or DefaultUserInfo when
// the service does not report one.
func (c *Client) About(ctx context.Context) (UserInfo, error) {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/about",
		Query:  url.Values{"fields": {"user"}},
	})
	if err != nil {
		return DefaultUserInfo(), err
	}

	var about struct {
		User *UserInfo `json:"user"`
	}
	ok, err := DecodeJSON(resp.Body, &about)
	if err != nil {
		return DefaultUserInfo(), err
	}
	if !ok || about.User == nil {
		return DefaultUserInfo(), nil
	}
	info := *about.User
	info.Known = true
	if info.DisplayName == "" {
		info.DisplayName = info.EmailAddress
	}
	return info, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (c *Client) createMetadata(ctx context.Context, md Metadata) (*File, error) {
	body, err := json.Marshal(md)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	resp, err := c.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        "/files",
		Query:       url.Values{"fields": {fileFields}},
		Body:        body,
		ContentType: MimeTypeJSON,
	})
	if err != nil {
		return nil, err
	}
	return decodeFile(resp.Body)
}

func (c *Client) initiateResumable(ctx context.Context, method, path string, md Metadata, contentType string, size int) (string, error) {
	body, err := json.Marshal(md)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}
	header := http.Header{}
	header.Set("X-Upload-Content-Type", contentType)
	header.Set("X-Upload-Content-Length", strconv.Itoa(size))

	resp, err := c.Do(ctx, &Request{
		Method:      method,
		Path:        path,
		Upload:      true,
		Query:       url.Values{"uploadType": {"resumable"}},
		Body:        body,
		ContentType: MimeTypeJSON + "; charset=UTF-8",
		Header:      header,
	})
	if err != nil {
		return "", err
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &APIError{Status: resp.Status, Message: "resumable upload response without session uri"}
	}
	c.l.Debug("resumable session started", zap.String("method", method), zap.String("path", path))
	return location, nil
}

func decodeFile(body []byte) (*File, error) {
	var f File
	ok, err := DecodeJSON(body, &f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &f, nil
}
