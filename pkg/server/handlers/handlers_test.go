package handlers

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/storage"
	"github.com/quartzfs/quartz/pkg/store/metadata"
	"github.com/quartzfs/quartz/pkg/store/metadata/badger"
	"github.com/quartzfs/quartz/pkg/store/users"
)

const testChunkSize = 1024

// testEnv builds an Env on in-memory stores and a temp-dir disk, plus a
// registry with every handler wired, mirroring production startup.
func testEnv(t *testing.T) (*Env, *server.Registry) {
	t.Helper()

	userStore, err := users.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { userStore.Close() })

	meta, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	disk, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)

	env := &Env{
		Users:     userStore,
		Meta:      meta,
		Disk:      disk,
		ChunkSize: testChunkSize,
	}
	reg := server.NewRegistry()
	RegisterAll(reg, env)
	return env, reg
}

func newTestSession(t *testing.T) *server.Session {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := server.NewSession(serverConn)
	t.Cleanup(func() {
		sess.Close()
		clientConn.Close()
	})
	return sess
}

// dispatch runs a request through the registry the way the connection loop
// would.
func dispatch(t *testing.T, reg *server.Registry, sess *server.Session, req *protocol.Packet) *protocol.Packet {
	t.Helper()
	resp := reg.Dispatch(context.Background(), req, sess)
	require.NotNil(t, resp)
	assert.Equal(t, req.ID, resp.ID, "response must carry the request packet ID")
	return resp
}

func createAccount(t *testing.T, reg *server.Registry, sess *server.Session, username, password string) string {
	t.Helper()
	req := protocol.New(protocol.CodeCreateAccountRequest)
	req.Payload = mustJSON(t, map[string]string{
		"Username": username,
		"Password": password,
		"Email":    username + "@example.com",
	})
	resp := dispatch(t, reg, sess, req)
	require.Equal(t, protocol.CodeCreateAccountResponse, resp.Code)
	require.True(t, resp.IsOK())
	return resp.Meta(protocol.MetaUserID)
}

func login(t *testing.T, reg *server.Registry, sess *server.Session, username, password string) string {
	t.Helper()
	req := protocol.New(protocol.CodeLoginRequest)
	req.Payload = mustJSON(t, map[string]string{"Username": username, "Password": password})
	resp := dispatch(t, reg, sess, req)
	require.Equal(t, protocol.CodeLoginResponse, resp.Code)
	require.True(t, resp.IsOK())
	return resp.Meta(protocol.MetaUserID)
}

// loggedInSession creates an account and authenticates a fresh session.
func loggedInSession(t *testing.T, reg *server.Registry, username string) *server.Session {
	t.Helper()
	sess := newTestSession(t)
	createAccount(t, reg, sess, username, "s3cret-pass")
	login(t, reg, sess, username, "s3cret-pass")
	return sess
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// uploadFile drives a full INIT / CHUNK* / COMPLETE exchange and returns
// the file ID.
func uploadFile(t *testing.T, reg *server.Registry, sess *server.Session, name, dirToken string, content []byte) string {
	t.Helper()

	init := protocol.New(protocol.CodeFileUploadInitRequest)
	init.SetMeta(protocol.MetaFileName, name)
	init.SetMetaInt(protocol.MetaFileSize, int64(len(content)))
	init.SetMeta(protocol.MetaContentType, "application/octet-stream")
	if dirToken != "" {
		init.SetMeta(protocol.MetaDirectoryID, dirToken)
	}
	resp := dispatch(t, reg, sess, init)
	require.Equal(t, protocol.CodeFileUploadInitResponse, resp.Code)
	require.True(t, resp.IsOK(), "upload init failed: %s", resp.Meta(protocol.MetaMessage))

	fileID := resp.Meta(protocol.MetaFileID)
	require.NotEmpty(t, fileID)
	totalChunks, _ := resp.MetaInt(protocol.MetaTotalChunks)

	for i := int64(0); i < totalChunks; i++ {
		start := i * testChunkSize
		end := start + testChunkSize
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		chunk := protocol.New(protocol.CodeFileUploadChunkRequest)
		chunk.SetMeta(protocol.MetaFileID, fileID)
		chunk.SetMetaInt(protocol.MetaChunkIndex, i)
		chunk.SetMetaBool(protocol.MetaIsLastChunk, i == totalChunks-1)
		chunk.Payload = content[start:end]
		cr := dispatch(t, reg, sess, chunk)
		require.True(t, cr.IsOK(), "chunk %d failed: %s", i, cr.Meta(protocol.MetaMessage))
	}

	complete := protocol.New(protocol.CodeFileUploadCompleteRequest)
	complete.SetMeta(protocol.MetaFileID, fileID)
	resp = dispatch(t, reg, sess, complete)
	require.Equal(t, protocol.CodeSuccess, resp.Code)
	require.True(t, resp.IsOK())
	return fileID
}

// downloadFile drives a full INIT / CHUNK* / COMPLETE exchange and returns
// the reassembled bytes.
func downloadFile(t *testing.T, reg *server.Registry, sess *server.Session, fileID string) []byte {
	t.Helper()

	init := protocol.New(protocol.CodeFileDownloadInitRequest)
	init.SetMeta(protocol.MetaFileID, fileID)
	resp := dispatch(t, reg, sess, init)
	require.Equal(t, protocol.CodeFileDownloadInitResponse, resp.Code)
	require.True(t, resp.IsOK(), "download init failed: %s", resp.Meta(protocol.MetaMessage))
	totalChunks, _ := resp.MetaInt(protocol.MetaTotalChunks)

	var content []byte
	for i := int64(0); i < totalChunks; i++ {
		chunk := protocol.New(protocol.CodeFileDownloadChunkRequest)
		chunk.SetMeta(protocol.MetaFileID, fileID)
		chunk.SetMetaInt(protocol.MetaChunkIndex, i)
		cr := dispatch(t, reg, sess, chunk)
		require.True(t, cr.IsOK(), "chunk %d failed: %s", i, cr.Meta(protocol.MetaMessage))
		assert.Equal(t, i == totalChunks-1, cr.MetaBool(protocol.MetaIsLastChunk))
		content = append(content, cr.Payload...)
	}

	complete := protocol.New(protocol.CodeFileDownloadCompleteRequest)
	complete.SetMeta(protocol.MetaFileID, fileID)
	resp = dispatch(t, reg, sess, complete)
	require.Equal(t, protocol.CodeSuccess, resp.Code)
	return content
}

func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestAccountLifecycle(t *testing.T) {
	_, reg := testEnv(t)
	sess := newTestSession(t)

	userID := createAccount(t, reg, sess, "alice", "P@ssword1")
	require.NotEmpty(t, userID)

	loginID := login(t, reg, sess, "alice", "P@ssword1")
	assert.Equal(t, userID, loginID)
	assert.True(t, sess.IsAuthenticated())

	logout := dispatch(t, reg, sess, protocol.New(protocol.CodeLogoutRequest))
	assert.Equal(t, protocol.CodeLogoutResponse, logout.Code)
	assert.True(t, logout.IsOK())
	assert.True(t, sess.ShouldClose())
}

func TestCreateAccountDuplicateUsername(t *testing.T) {
	_, reg := testEnv(t)
	sess := newTestSession(t)
	createAccount(t, reg, sess, "alice", "P@ssword1")

	dup := protocol.New(protocol.CodeCreateAccountRequest)
	dup.Payload = mustJSON(t, map[string]string{"Username": "alice", "Password": "Other-pass9"})
	resp := dispatch(t, reg, sess, dup)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "taken")

	// The original account still authenticates.
	login(t, reg, newTestSession(t), "alice", "P@ssword1")
}

func TestLoginWrongPassword(t *testing.T) {
	_, reg := testEnv(t)
	sess := newTestSession(t)
	createAccount(t, reg, sess, "alice", "P@ssword1")

	req := protocol.New(protocol.CodeLoginRequest)
	req.Payload = mustJSON(t, map[string]string{"Username": "alice", "Password": "P@ssword2"})
	resp := dispatch(t, reg, sess, req)
	assert.Equal(t, protocol.CodeUnauthorized, resp.Code)
	assert.False(t, sess.IsAuthenticated())

	// The session stays open for retry.
	login(t, reg, sess, "alice", "P@ssword1")
}

func TestPacketUserMismatchRejected(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	req := protocol.New(protocol.CodeFileListRequest)
	req.UserID = "someone-else"
	resp := dispatch(t, reg, sess, req)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "does not match")
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	content := patternBytes(3*testChunkSize + 100)
	fileID := uploadFile(t, reg, sess, "x.bin", "", content)

	got := downloadFile(t, reg, sess, fileID)
	assert.Equal(t, content, got)

	// Downloads are idempotent: a second full download matches.
	got = downloadFile(t, reg, sess, fileID)
	assert.Equal(t, content, got)
}

func TestUploadEmptyFile(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	fileID := uploadFile(t, reg, sess, "empty.txt", "", []byte{})
	got := downloadFile(t, reg, sess, fileID)
	assert.Empty(t, got)
}

func TestUploadOutOfOrderChunk(t *testing.T) {
	env, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	init := protocol.New(protocol.CodeFileUploadInitRequest)
	init.SetMeta(protocol.MetaFileName, "x.bin")
	init.SetMetaInt(protocol.MetaFileSize, 2*testChunkSize)
	resp := dispatch(t, reg, sess, init)
	require.True(t, resp.IsOK())
	fileID := resp.Meta(protocol.MetaFileID)

	// Chunk 1 before chunk 0.
	chunk := protocol.New(protocol.CodeFileUploadChunkRequest)
	chunk.SetMeta(protocol.MetaFileID, fileID)
	chunk.SetMetaInt(protocol.MetaChunkIndex, 1)
	chunk.Payload = patternBytes(testChunkSize)
	resp = dispatch(t, reg, sess, chunk)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "expected chunk 0")

	// The file stays incomplete.
	file, err := env.Meta.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.False(t, file.IsComplete)

	// A fresh, correctly ordered upload on the same session succeeds.
	uploadFile(t, reg, sess, "y.bin", "", patternBytes(testChunkSize))
}

func TestUploadLastChunkFlagMismatch(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	init := protocol.New(protocol.CodeFileUploadInitRequest)
	init.SetMeta(protocol.MetaFileName, "x.bin")
	init.SetMetaInt(protocol.MetaFileSize, 2*testChunkSize)
	resp := dispatch(t, reg, sess, init)
	require.True(t, resp.IsOK())
	fileID := resp.Meta(protocol.MetaFileID)

	// IsLastChunk on a non-final chunk is rejected and does not advance
	// progress.
	chunk := protocol.New(protocol.CodeFileUploadChunkRequest)
	chunk.SetMeta(protocol.MetaFileID, fileID)
	chunk.SetMetaInt(protocol.MetaChunkIndex, 0)
	chunk.SetMetaBool(protocol.MetaIsLastChunk, true)
	chunk.Payload = patternBytes(testChunkSize)
	resp = dispatch(t, reg, sess, chunk)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "IsLastChunk")

	// The retry with the flag clear is accepted.
	chunk = protocol.New(protocol.CodeFileUploadChunkRequest)
	chunk.SetMeta(protocol.MetaFileID, fileID)
	chunk.SetMetaInt(protocol.MetaChunkIndex, 0)
	chunk.Payload = patternBytes(testChunkSize)
	resp = dispatch(t, reg, sess, chunk)
	require.True(t, resp.IsOK())

	// The final chunk without the flag is rejected.
	chunk = protocol.New(protocol.CodeFileUploadChunkRequest)
	chunk.SetMeta(protocol.MetaFileID, fileID)
	chunk.SetMetaInt(protocol.MetaChunkIndex, 1)
	chunk.Payload = patternBytes(testChunkSize)
	resp = dispatch(t, reg, sess, chunk)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "IsLastChunk")
}

func TestUploadCompleteBeforeAllChunks(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	init := protocol.New(protocol.CodeFileUploadInitRequest)
	init.SetMeta(protocol.MetaFileName, "x.bin")
	init.SetMetaInt(protocol.MetaFileSize, 2*testChunkSize)
	resp := dispatch(t, reg, sess, init)
	require.True(t, resp.IsOK())
	fileID := resp.Meta(protocol.MetaFileID)

	complete := protocol.New(protocol.CodeFileUploadCompleteRequest)
	complete.SetMeta(protocol.MetaFileID, fileID)
	resp = dispatch(t, reg, sess, complete)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "expected chunk 0")
}

func TestUploadChunkWithoutInit(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	chunk := protocol.New(protocol.CodeFileUploadChunkRequest)
	chunk.SetMeta(protocol.MetaFileID, "nope")
	chunk.SetMetaInt(protocol.MetaChunkIndex, 0)
	resp := dispatch(t, reg, sess, chunk)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "FILE_UPLOAD_INIT")
}

func TestCrossUserIsolation(t *testing.T) {
	_, reg := testEnv(t)
	alice := loggedInSession(t, reg, "alice")
	bob := loggedInSession(t, reg, "bob")

	fileID := uploadFile(t, reg, alice, "x.bin", "", patternBytes(100))

	// Bob cannot download, delete, or see alice's file.
	init := protocol.New(protocol.CodeFileDownloadInitRequest)
	init.SetMeta(protocol.MetaFileID, fileID)
	resp := dispatch(t, reg, bob, init)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "not found")

	del := protocol.New(protocol.CodeFileDeleteRequest)
	del.SetMeta(protocol.MetaFileID, fileID)
	resp = dispatch(t, reg, bob, del)
	assert.Equal(t, protocol.CodeError, resp.Code)

	list := dispatch(t, reg, bob, protocol.New(protocol.CodeFileListRequest))
	require.True(t, list.IsOK())
	var files []*metadata.FileMetadata
	require.NoError(t, json.Unmarshal(list.Payload, &files))
	assert.Empty(t, files)
}

func TestFileListShowsCompleteFilesOnly(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	uploadFile(t, reg, sess, "done.bin", "", patternBytes(100))

	// Start but never finish a second upload.
	init := protocol.New(protocol.CodeFileUploadInitRequest)
	init.SetMeta(protocol.MetaFileName, "partial.bin")
	init.SetMetaInt(protocol.MetaFileSize, 2*testChunkSize)
	require.True(t, dispatch(t, reg, sess, init).IsOK())

	list := dispatch(t, reg, sess, protocol.New(protocol.CodeFileListRequest))
	require.True(t, list.IsOK())
	var files []*metadata.FileMetadata
	require.NoError(t, json.Unmarshal(list.Payload, &files))
	require.Len(t, files, 1)
	assert.Equal(t, "done.bin", files[0].Name)
}

func TestFileDeleteRemovesBytes(t *testing.T) {
	env, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	fileID := uploadFile(t, reg, sess, "x.bin", "", patternBytes(100))
	file, err := env.Meta.GetFile(context.Background(), fileID)
	require.NoError(t, err)

	del := protocol.New(protocol.CodeFileDeleteRequest)
	del.SetMeta(protocol.MetaFileID, fileID)
	resp := dispatch(t, reg, sess, del)
	require.True(t, resp.IsOK())

	_, err = env.Meta.GetFile(context.Background(), fileID)
	assert.True(t, metadata.IsNotFound(err))
	_, err = env.Disk.Size(file.PhysicalPath)
	assert.Error(t, err)
}

func TestFileMove(t *testing.T) {
	env, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	create := protocol.New(protocol.CodeDirectoryCreateRequest)
	create.SetMeta(protocol.MetaDirectoryName, "docs")
	resp := dispatch(t, reg, sess, create)
	require.True(t, resp.IsOK())
	dirID := resp.Meta(protocol.MetaDirectoryID)

	fileID := uploadFile(t, reg, sess, "x.bin", "", patternBytes(100))

	move := protocol.New(protocol.CodeFileMoveRequest)
	move.SetMeta(protocol.MetaDirectoryID, dirID)
	move.Payload = mustJSON(t, []string{fileID})
	resp = dispatch(t, reg, sess, move)
	require.True(t, resp.IsOK())

	file, err := env.Meta.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, dirID, file.DirectoryID)
}

func TestDirectoryTreeScenario(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	create := protocol.New(protocol.CodeDirectoryCreateRequest)
	create.SetMeta(protocol.MetaDirectoryName, "docs")
	resp := dispatch(t, reg, sess, create)
	require.True(t, resp.IsOK())
	docsID := resp.Meta(protocol.MetaDirectoryID)

	create = protocol.New(protocol.CodeDirectoryCreateRequest)
	create.SetMeta(protocol.MetaDirectoryName, "2024")
	create.SetMeta(protocol.MetaParentID, docsID)
	resp = dispatch(t, reg, sess, create)
	require.True(t, resp.IsOK())
	yearID := resp.Meta(protocol.MetaDirectoryID)

	uploadFile(t, reg, sess, "report.pdf", yearID, patternBytes(100))

	// Contents of /docs: one subdirectory, zero files.
	contents := protocol.New(protocol.CodeDirectoryContentsRequest)
	contents.SetMeta(protocol.MetaDirectoryID, docsID)
	resp = dispatch(t, reg, sess, contents)
	require.True(t, resp.IsOK())
	var listing metadata.DirectoryContents
	require.NoError(t, json.Unmarshal(resp.Payload, &listing))
	assert.Empty(t, listing.Files)
	require.Len(t, listing.Directories, 1)
	assert.Equal(t, "2024", listing.Directories[0].Name)

	// Non-recursive delete of a non-empty directory fails.
	del := protocol.New(protocol.CodeDirectoryDeleteRequest)
	del.SetMeta(protocol.MetaDirectoryID, docsID)
	resp = dispatch(t, reg, sess, del)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "not empty")

	// Recursive delete succeeds and root no longer lists docs.
	del = protocol.New(protocol.CodeDirectoryDeleteRequest)
	del.SetMeta(protocol.MetaDirectoryID, docsID)
	del.SetMetaBool(protocol.MetaRecursive, true)
	resp = dispatch(t, reg, sess, del)
	require.True(t, resp.IsOK(), "recursive delete failed: %s", resp.Meta(protocol.MetaMessage))

	contents = protocol.New(protocol.CodeDirectoryContentsRequest)
	contents.SetMeta(protocol.MetaDirectoryID, protocol.RootDirectoryToken)
	resp = dispatch(t, reg, sess, contents)
	require.True(t, resp.IsOK())
	require.NoError(t, json.Unmarshal(resp.Payload, &listing))
	assert.Empty(t, listing.Directories)
}

func TestDirectoryRename(t *testing.T) {
	_, reg := testEnv(t)
	sess := loggedInSession(t, reg, "alice")

	create := protocol.New(protocol.CodeDirectoryCreateRequest)
	create.SetMeta(protocol.MetaDirectoryName, "docs")
	resp := dispatch(t, reg, sess, create)
	require.True(t, resp.IsOK())
	dirID := resp.Meta(protocol.MetaDirectoryID)

	rename := protocol.New(protocol.CodeDirectoryRenameRequest)
	rename.SetMeta(protocol.MetaDirectoryID, dirID)
	rename.SetMeta(protocol.MetaNewName, "archive")
	resp = dispatch(t, reg, sess, rename)
	require.True(t, resp.IsOK())
	assert.Equal(t, "archive", resp.Meta(protocol.MetaDirectoryName))

	list := dispatch(t, reg, sess, protocol.New(protocol.CodeDirectoryListRequest))
	require.True(t, list.IsOK())
	var dirs []*metadata.DirectoryMetadata
	require.NoError(t, json.Unmarshal(list.Payload, &dirs))
	require.Len(t, dirs, 1)
	assert.Equal(t, "archive", dirs[0].Name)
}

func TestUploadIntoForeignDirectory(t *testing.T) {
	_, reg := testEnv(t)
	alice := loggedInSession(t, reg, "alice")
	bob := loggedInSession(t, reg, "bob")

	create := protocol.New(protocol.CodeDirectoryCreateRequest)
	create.SetMeta(protocol.MetaDirectoryName, "private")
	resp := dispatch(t, reg, alice, create)
	require.True(t, resp.IsOK())
	dirID := resp.Meta(protocol.MetaDirectoryID)

	init := protocol.New(protocol.CodeFileUploadInitRequest)
	init.SetMeta(protocol.MetaFileName, "sneaky.bin")
	init.SetMetaInt(protocol.MetaFileSize, 10)
	init.SetMeta(protocol.MetaDirectoryID, dirID)
	resp = dispatch(t, reg, bob, init)
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Contains(t, resp.Meta(protocol.MetaMessage), "not found")
}
