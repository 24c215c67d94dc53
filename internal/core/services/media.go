// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file defines the object storage side of the services: uploading media
// to the bucket and producing the URLs clients use to fetch it.
//
// Logic Flow:
//  1. An upload is sniffed from its first bytes (h2non/filetype) and rejected
//     when it is not of the expected kind (video or audio).
//  2. The object key is built from the owning episode or dialogue plus a
//     fresh uuid, so that re-uploads never overwrite a previous take.
//  3. Reads go through V4 signed URLs. When a signer service account is
//     configured the signature is produced by the IAM Credentials API, which
//     is how Cloud Run and GKE workloads sign without a private key file.
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
)

// sniffLen is the number of leading bytes filetype needs to match every
// supported container.
const sniffLen = 261

// MediaKind is the class of media an upload must belong to.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// ObjectStore is the object storage used by the services. MediaService is the
// Cloud Storage implementation.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) error
	SignedURL(ctx context.Context, key string) (string, error)
	PublicURL(key string) string
}

// MediaService stores and signs objects in a single Cloud Storage bucket.
type MediaService struct {
	StorageClient   *storage.Client                   // Client for Google Cloud Storage (GCS).
	IAMClient       *credentials.IamCredentialsClient // Signs URLs on behalf of SignerEmail; may be nil.
	SignerEmail     string                            // Service account used for signing.
	Bucket          string                            // Bucket holding every media object.
	PublicBaseURL   string                            // Base of the URLs stored on documents.
	SignedURLExpiry time.Duration                     // Lifetime of signed URLs.
}

// NewMediaService wires the storage clients of the container to the storage
// configuration.
func NewMediaService(clients *cloud.ServiceClients, config *cloud.Config) *MediaService {
	expiry := time.Duration(config.Storage.SignedURLMinutes) * time.Minute
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &MediaService{
		StorageClient:   clients.StorageClient,
		IAMClient:       clients.IAMClient,
		SignerEmail:     config.Application.SignerServiceAccountEmail,
		Bucket:          config.Storage.Bucket,
		PublicBaseURL:   config.Storage.PublicBaseURL,
		SignedURLExpiry: expiry,
	}
}

// Upload streams r into the object named key.
func (s *MediaService) Upload(ctx context.Context, key, contentType string, r io.Reader) error {
	w := s.StorageClient.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: failed to upload %s: %v", ErrUpstream, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: failed to finalize %s: %v", ErrUpstream, key, err)
	}
	return nil
}

// SignedURL returns a V4 signed GET URL valid for SignedURLExpiry.
func (s *MediaService) SignedURL(ctx context.Context, key string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(s.SignedURLExpiry),
	}
	if s.IAMClient != nil && s.SignerEmail != "" {
		opts.GoogleAccessID = s.SignerEmail
		opts.SignBytes = func(b []byte) ([]byte, error) {
			resp, err := s.IAMClient.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.SignerEmail),
				Payload: b,
			})
			if err != nil {
				return nil, err
			}
			return resp.SignedBlob, nil
		}
	}
	url, err := s.StorageClient.Bucket(s.Bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign %s: %v", ErrUpstream, key, err)
	}
	return url, nil
}

// PublicURL returns the unsigned URL stored on documents.
func (s *MediaService) PublicURL(key string) string {
	return cloud.PublicURL(s.PublicBaseURL, s.Bucket, key)
}

// SniffedFile is an upload whose type has been checked.
type SniffedFile struct {
	Reader      io.Reader // Replays the sniffed bytes before the rest of the body.
	ContentType string
	Extension   string
}

// Sniff checks that r starts with a known container of the given kind.
func Sniff(r io.Reader, kind MediaKind) (*SniffedFile, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return nil, validationf("empty %s upload", kind)
		}
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	var ok bool
	switch kind {
	case KindVideo:
		ok = filetype.IsVideo(head)
	case KindAudio:
		ok = filetype.IsAudio(head)
	}
	match, merr := filetype.Match(head)
	if !ok || merr != nil || match == filetype.Unknown {
		return nil, validationf("upload is not a supported %s file", kind)
	}
	return &SniffedFile{
		Reader:      io.MultiReader(bytes.NewReader(head), r),
		ContentType: match.MIME.Value,
		Extension:   match.Extension,
	}, nil
}

// uniqueName returns "<stem>-<uuid>.<ext>", or "<uuid>.<ext>" without a stem.
func uniqueName(stem, ext string) string {
	id := uuid.NewString()
	if stem != "" {
		id = stem + "-" + id
	}
	return id + "." + strings.TrimPrefix(ext, ".")
}

// cleanKey rejects keys that could escape their prefix.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return "", validationf("invalid object key %q", key)
	}
	return key, nil
}
