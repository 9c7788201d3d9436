package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

const folderMimeType = "application/vnd.google-apps.folder"

// ErrNoToken is returned when no cached OAuth token exists and no interactive
// input was provided to obtain one.
var ErrNoToken = errors.New("google drive: no cached oauth token")

// DriveClient archives completed jobs to Google Drive.
type DriveClient struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// DriveConfig locates the OAuth client secrets and the cached token.
type DriveConfig struct {
	CredentialsFile string
	TokenFile       string
	FolderName      string
	// AuthInput, when set, is read for an authorization code if the token
	// file is missing.
	AuthInput io.Reader
}

// NewDriveClient creates a new Google Drive client
func NewDriveClient(ctx context.Context, cfg DriveConfig) (*DriveClient, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := getClient(ctx, config, cfg.TokenFile, cfg.AuthInput)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}
	return newDriveClient(ctx, srv, cfg.FolderName)
}

func newDriveClient(ctx context.Context, srv *drive.Service, folderName string) (*DriveClient, error) {
	dc := &DriveClient{
		service:    srv,
		folderName: folderName,
	}

	// Find or create the root folder
	id, err := dc.findOrCreateFolder(ctx, folderName, "")
	if err != nil {
		return nil, fmt.Errorf("unable to prepare folder %q: %w", folderName, err)
	}
	dc.folderID = id
	return dc, nil
}

// getClient loads the cached token, or runs the console authorization flow
// when input is available, and returns an authorized HTTP client.
func getClient(ctx context.Context, config *oauth2.Config, tokenFile string, input io.Reader) (*http.Client, error) {
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		if input == nil {
			return nil, fmt.Errorf("%w at %s", ErrNoToken, tokenFile)
		}
		tok, err = getTokenFromWeb(ctx, config, input)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

// getTokenFromWeb prints the consent URL and exchanges the pasted code.
func getTokenFromWeb(ctx context.Context, config *oauth2.Config, input io.Reader) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser:\n%v\n", authURL)
	fmt.Print("Enter authorization code: ")

	code, err := bufio.NewReader(input).ReadString('\n')
	if err != nil && code == "" {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := config.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// UploadJob uploads the transcript and metadata of a completed job into a
// dated folder and returns a link to the transcript.
func (dc *DriveClient) UploadJob(ctx context.Context, job types.Job) (string, error) {
	now := time.Now()
	if job.ProcessedAt != nil {
		now = *job.ProcessedAt
	}
	folderID, err := dc.ensureDateFolder(ctx, now)
	if err != nil {
		return "", err
	}

	baseFilename := archiveName(job, now)

	txtFile := &drive.File{
		Name:    baseFilename + ".txt",
		Parents: []string{folderID},
	}
	created, err := dc.service.Files.Create(txtFile).
		Media(strings.NewReader(transcriptText(job))).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	metaJSON, err := json.MarshalIndent(newArchiveMeta(job), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metaFile := &drive.File{
		Name:    baseFilename + "_meta.json",
		Parents: []string{folderID},
	}
	if _, err := dc.service.Files.Create(metaFile).Media(bytes.NewReader(metaJSON)).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("failed to upload metadata: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested year/month/day folders
func (dc *DriveClient) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	parent := dc.folderID
	for _, name := range []string{
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	} {
		id, err := dc.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

// findOrCreateFolder finds or creates a folder under parentID, or at the top
// level when parentID is empty.
func (dc *DriveClient) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), folderMimeType)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to search for folder: %w", err)
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}

	file, err := dc.service.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create folder: %w", err)
	}
	return file.Id, nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}
