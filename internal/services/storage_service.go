package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// UploadRequest describes one attachment a client wants to upload.
type UploadRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// UploadTarget is a presigned destination. The core treats objectKey and
// URLs as opaque: whatever the client ends up storing is what the
// message attachment will carry.
type UploadTarget struct {
	Name      string `json:"name"`
	ObjectKey string `json:"object_key"`
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
}

type StorageService interface {
	CreateUploadURLs(ctx context.Context, folder string, files []UploadRequest) ([]UploadTarget, error)
}

type SupabaseStorageService struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseStorageService(baseURL, bucket, serviceKey string) *SupabaseStorageService {
	return &SupabaseStorageService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: http.DefaultClient,
	}
}

// CreateUploadURLs signs one upload slot per requested file. Object keys
// are random so client-chosen names cannot collide or traverse folders.
func (s *SupabaseStorageService) CreateUploadURLs(ctx context.Context, folder string, files []UploadRequest) ([]UploadTarget, error) {
	targets := make([]UploadTarget, 0, len(files))
	for _, file := range files {
		objectKey := path.Join(strings.Trim(folder, "/"), uuid.NewString()+path.Ext(file.Name))

		uploadURL, err := s.signUpload(ctx, objectKey)
		if err != nil {
			return nil, err
		}

		targets = append(targets, UploadTarget{
			Name:      file.Name,
			ObjectKey: objectKey,
			UploadURL: uploadURL,
			PublicURL: fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectKey),
		})
	}
	return targets, nil
}

func (s *SupabaseStorageService) signUpload(ctx context.Context, objectKey string) (string, error) {
	signURL := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s", s.baseURL, s.bucket, objectKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("sign upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var response struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode sign response: %w", err)
	}
	if response.URL == "" {
		return "", fmt.Errorf("signed upload url missing from response")
	}

	return fmt.Sprintf("%s/storage/v1%s", s.baseURL, response.URL), nil
}
