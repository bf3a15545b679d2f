package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// credentials is the JSON body of LOGIN and CREATE_ACCOUNT requests.
type credentials struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
	Email    string `json:"Email,omitempty"`
}

// CreateAccount registers a new user and returns the server-assigned user
// ID. It does not authenticate the connection; call Login afterwards.
func (c *Client) CreateAccount(ctx context.Context, username, password, email string) (string, error) {
	payload, err := json.Marshal(credentials{Username: username, Password: password, Email: email})
	if err != nil {
		return "", err
	}

	req := protocol.New(protocol.CodeCreateAccountRequest)
	req.Payload = payload
	resp, err := c.SendAndReceive(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Meta(protocol.MetaUserID), nil
}

// Login authenticates the connection. On success the returned user ID is
// remembered and stamped onto subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	payload, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return "", err
	}

	req := protocol.New(protocol.CodeLoginRequest)
	req.Payload = payload
	resp, err := c.SendAndReceive(ctx, req)
	if err != nil {
		return "", err
	}

	userID := resp.Meta(protocol.MetaUserID)
	c.setUserID(userID)
	return userID, nil
}

// Logout ends the session. The server closes the connection after the
// response, so the client is unusable afterwards.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.SendAndReceive(ctx, protocol.New(protocol.CodeLogoutRequest))
	return err
}

// UploadOptions carries the optional attributes of an upload.
type UploadOptions struct {
	// ContentType defaults to application/octet-stream on the server.
	ContentType string

	// DirectoryID places the file in a directory; empty or "root" means
	// the root.
	DirectoryID string
}

// Upload streams size bytes from r to the server as a new file and
// returns its file ID. The chunk size is the server's, announced in the
// INIT response.
func (c *Client) Upload(ctx context.Context, name string, size int64, r io.Reader, opts UploadOptions) (string, error) {
	init := protocol.New(protocol.CodeFileUploadInitRequest)
	init.SetMeta(protocol.MetaFileName, name)
	init.SetMetaInt(protocol.MetaFileSize, size)
	if opts.ContentType != "" {
		init.SetMeta(protocol.MetaContentType, opts.ContentType)
	}
	if opts.DirectoryID != "" {
		init.SetMeta(protocol.MetaDirectoryID, opts.DirectoryID)
	}

	resp, err := c.SendAndReceive(ctx, init)
	if err != nil {
		return "", err
	}
	fileID := resp.Meta(protocol.MetaFileID)
	chunkSize, ok := resp.MetaInt(protocol.MetaChunkSize)
	if fileID == "" || !ok || chunkSize <= 0 {
		return "", fmt.Errorf("malformed upload init response")
	}
	totalChunks, _ := resp.MetaInt(protocol.MetaTotalChunks)

	buf := make([]byte, chunkSize)
	for index := int64(0); index < totalChunks; index++ {
		want := chunkSize
		if remaining := size - index*chunkSize; remaining < want {
			want = remaining
		}
		if _, err := io.ReadFull(r, buf[:want]); err != nil {
			return "", fmt.Errorf("failed to read chunk %d: %w", index, err)
		}

		chunk := protocol.New(protocol.CodeFileUploadChunkRequest)
		chunk.SetMeta(protocol.MetaFileID, fileID)
		chunk.SetMetaInt(protocol.MetaChunkIndex, index)
		chunk.SetMetaBool(protocol.MetaIsLastChunk, index == totalChunks-1)
		chunk.Payload = buf[:want]
		if _, err := c.SendAndReceive(ctx, chunk); err != nil {
			return "", fmt.Errorf("chunk %d rejected: %w", index, err)
		}
	}

	complete := protocol.New(protocol.CodeFileUploadCompleteRequest)
	complete.SetMeta(protocol.MetaFileID, fileID)
	if _, err := c.SendAndReceive(ctx, complete); err != nil {
		return "", err
	}
	return fileID, nil
}

// UploadBytes uploads an in-memory buffer as a new file.
func (c *Client) UploadBytes(ctx context.Context, name string, data []byte, opts UploadOptions) (string, error) {
	return c.Upload(ctx, name, int64(len(data)), bytes.NewReader(data), opts)
}

// Download pulls a file chunk by chunk into w and returns the byte count.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	init := protocol.New(protocol.CodeFileDownloadInitRequest)
	init.SetMeta(protocol.MetaFileID, fileID)
	resp, err := c.SendAndReceive(ctx, init)
	if err != nil {
		return 0, err
	}
	totalChunks, _ := resp.MetaInt(protocol.MetaTotalChunks)

	var written int64
	for index := int64(0); index < totalChunks; index++ {
		chunk := protocol.New(protocol.CodeFileDownloadChunkRequest)
		chunk.SetMeta(protocol.MetaFileID, fileID)
		chunk.SetMetaInt(protocol.MetaChunkIndex, index)
		resp, err := c.SendAndReceive(ctx, chunk)
		if err != nil {
			return written, fmt.Errorf("chunk %d failed: %w", index, err)
		}
		n, err := w.Write(resp.Payload)
		if err != nil {
			return written, err
		}
		written += int64(n)
	}

	complete := protocol.New(protocol.CodeFileDownloadCompleteRequest)
	complete.SetMeta(protocol.MetaFileID, fileID)
	if _, err := c.SendAndReceive(ctx, complete); err != nil {
		return written, err
	}
	return written, nil
}

// DownloadBytes pulls a full file into memory.
func (c *Client) DownloadBytes(ctx context.Context, fileID string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.Download(ctx, fileID, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ListFiles returns every complete file the user owns.
func (c *Client) ListFiles(ctx context.Context) ([]*metadata.FileMetadata, error) {
	resp, err := c.SendAndReceive(ctx, protocol.New(protocol.CodeFileListRequest))
	if err != nil {
		return nil, err
	}
	var files []*metadata.FileMetadata
	if err := json.Unmarshal(resp.Payload, &files); err != nil {
		return nil, fmt.Errorf("malformed file list: %w", err)
	}
	return files, nil
}

// DeleteFile removes a file, metadata and bytes.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	req := protocol.New(protocol.CodeFileDeleteRequest)
	req.SetMeta(protocol.MetaFileID, fileID)
	_, err := c.SendAndReceive(ctx, req)
	return err
}

// MoveFiles re-parents files into a directory ("root" for the root).
func (c *Client) MoveFiles(ctx context.Context, fileIDs []string, directoryID string) error {
	payload, err := json.Marshal(fileIDs)
	if err != nil {
		return err
	}
	req := protocol.New(protocol.CodeFileMoveRequest)
	req.SetMeta(protocol.MetaDirectoryID, directoryID)
	req.Payload = payload
	_, err = c.SendAndReceive(ctx, req)
	return err
}

// CreateDirectory creates a directory under parentID ("root" or empty for
// the root) and returns its ID.
func (c *Client) CreateDirectory(ctx context.Context, name, parentID string) (string, error) {
	req := protocol.New(protocol.CodeDirectoryCreateRequest)
	req.SetMeta(protocol.MetaDirectoryName, name)
	if parentID != "" {
		req.SetMeta(protocol.MetaParentID, parentID)
	}
	resp, err := c.SendAndReceive(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Meta(protocol.MetaDirectoryID), nil
}

// ListDirectories returns every directory the user owns.
func (c *Client) ListDirectories(ctx context.Context) ([]*metadata.DirectoryMetadata, error) {
	resp, err := c.SendAndReceive(ctx, protocol.New(protocol.CodeDirectoryListRequest))
	if err != nil {
		return nil, err
	}
	var dirs []*metadata.DirectoryMetadata
	if err := json.Unmarshal(resp.Payload, &dirs); err != nil {
		return nil, fmt.Errorf("malformed directory list: %w", err)
	}
	return dirs, nil
}

// RenameDirectory changes a directory's name.
func (c *Client) RenameDirectory(ctx context.Context, directoryID, newName string) error {
	req := protocol.New(protocol.CodeDirectoryRenameRequest)
	req.SetMeta(protocol.MetaDirectoryID, directoryID)
	req.SetMeta(protocol.MetaNewName, newName)
	_, err := c.SendAndReceive(ctx, req)
	return err
}

// DeleteDirectory removes a directory; recursive deletes the whole
// subtree.
func (c *Client) DeleteDirectory(ctx context.Context, directoryID string, recursive bool) error {
	req := protocol.New(protocol.CodeDirectoryDeleteRequest)
	req.SetMeta(protocol.MetaDirectoryID, directoryID)
	req.SetMetaBool(protocol.MetaRecursive, recursive)
	_, err := c.SendAndReceive(ctx, req)
	return err
}

// GetContents returns the files and subdirectories directly under a
// directory ("root" or empty for the root).
func (c *Client) GetContents(ctx context.Context, directoryID string) (*metadata.DirectoryContents, error) {
	req := protocol.New(protocol.CodeDirectoryContentsRequest)
	if directoryID != "" {
		req.SetMeta(protocol.MetaDirectoryID, directoryID)
	}
	resp, err := c.SendAndReceive(ctx, req)
	if err != nil {
		return nil, err
	}
	var contents metadata.DirectoryContents
	if err := json.Unmarshal(resp.Payload, &contents); err != nil {
		return nil, fmt.Errorf("malformed directory contents: %w", err)
	}
	return &contents, nil
}
