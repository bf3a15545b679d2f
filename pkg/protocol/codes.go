package protocol

import "fmt"

// Command codes carried in the packet header. Every request code has a
// matching response code at request+1, except for the terminal SUCCESS,
// ERROR and UNAUTHORIZED responses which stand alone.
const (
	CodeLoginRequest  int32 = 100
	CodeLoginResponse int32 = 101

	CodeLogoutRequest  int32 = 102
	CodeLogoutResponse int32 = 103

	CodeCreateAccountRequest  int32 = 110
	CodeCreateAccountResponse int32 = 111

	CodeFileListRequest  int32 = 200
	CodeFileListResponse int32 = 201

	CodeFileUploadInitRequest  int32 = 210
	CodeFileUploadInitResponse int32 = 211

	CodeFileUploadChunkRequest  int32 = 212
	CodeFileUploadChunkResponse int32 = 213

	CodeFileUploadCompleteRequest  int32 = 214
	CodeFileUploadCompleteResponse int32 = 215

	CodeFileDownloadInitRequest  int32 = 220
	CodeFileDownloadInitResponse int32 = 221

	CodeFileDownloadChunkRequest  int32 = 222
	CodeFileDownloadChunkResponse int32 = 223

	CodeFileDownloadCompleteRequest  int32 = 224
	CodeFileDownloadCompleteResponse int32 = 225

	CodeFileDeleteRequest  int32 = 230
	CodeFileDeleteResponse int32 = 231

	CodeDirectoryCreateRequest  int32 = 240
	CodeDirectoryCreateResponse int32 = 241

	CodeDirectoryListRequest  int32 = 242
	CodeDirectoryListResponse int32 = 243

	CodeDirectoryRenameRequest  int32 = 244
	CodeDirectoryRenameResponse int32 = 245

	CodeDirectoryDeleteRequest  int32 = 246
	CodeDirectoryDeleteResponse int32 = 247

	CodeFileMoveRequest  int32 = 248
	CodeFileMoveResponse int32 = 249

	CodeDirectoryContentsRequest  int32 = 250
	CodeDirectoryContentsResponse int32 = 251

	CodeSuccess      int32 = 300
	CodeError        int32 = 301
	CodeUnauthorized int32 = 302
)

var codeNames = map[int32]string{
	CodeLoginRequest:                 "LOGIN_REQUEST",
	CodeLoginResponse:                "LOGIN_RESPONSE",
	CodeLogoutRequest:                "LOGOUT_REQUEST",
	CodeLogoutResponse:               "LOGOUT_RESPONSE",
	CodeCreateAccountRequest:         "CREATE_ACCOUNT_REQUEST",
	CodeCreateAccountResponse:        "CREATE_ACCOUNT_RESPONSE",
	CodeFileListRequest:              "FILE_LIST_REQUEST",
	CodeFileListResponse:             "FILE_LIST_RESPONSE",
	CodeFileUploadInitRequest:        "FILE_UPLOAD_INIT_REQUEST",
	CodeFileUploadInitResponse:       "FILE_UPLOAD_INIT_RESPONSE",
	CodeFileUploadChunkRequest:       "FILE_UPLOAD_CHUNK_REQUEST",
	CodeFileUploadChunkResponse:      "FILE_UPLOAD_CHUNK_RESPONSE",
	CodeFileUploadCompleteRequest:    "FILE_UPLOAD_COMPLETE_REQUEST",
	CodeFileUploadCompleteResponse:   "FILE_UPLOAD_COMPLETE_RESPONSE",
	CodeFileDownloadInitRequest:      "FILE_DOWNLOAD_INIT_REQUEST",
	CodeFileDownloadInitResponse:     "FILE_DOWNLOAD_INIT_RESPONSE",
	CodeFileDownloadChunkRequest:     "FILE_DOWNLOAD_CHUNK_REQUEST",
	CodeFileDownloadChunkResponse:    "FILE_DOWNLOAD_CHUNK_RESPONSE",
	CodeFileDownloadCompleteRequest:  "FILE_DOWNLOAD_COMPLETE_REQUEST",
	CodeFileDownloadCompleteResponse: "FILE_DOWNLOAD_COMPLETE_RESPONSE",
	CodeFileDeleteRequest:            "FILE_DELETE_REQUEST",
	CodeFileDeleteResponse:           "FILE_DELETE_RESPONSE",
	CodeDirectoryCreateRequest:       "DIRECTORY_CREATE_REQUEST",
	CodeDirectoryCreateResponse:      "DIRECTORY_CREATE_RESPONSE",
	CodeDirectoryListRequest:         "DIRECTORY_LIST_REQUEST",
	CodeDirectoryListResponse:        "DIRECTORY_LIST_RESPONSE",
	CodeDirectoryRenameRequest:       "DIRECTORY_RENAME_REQUEST",
	CodeDirectoryRenameResponse:      "DIRECTORY_RENAME_RESPONSE",
	CodeDirectoryDeleteRequest:       "DIRECTORY_DELETE_REQUEST",
	CodeDirectoryDeleteResponse:      "DIRECTORY_DELETE_RESPONSE",
	CodeFileMoveRequest:              "FILE_MOVE_REQUEST",
	CodeFileMoveResponse:             "FILE_MOVE_RESPONSE",
	CodeDirectoryContentsRequest:     "DIRECTORY_CONTENTS_REQUEST",
	CodeDirectoryContentsResponse:    "DIRECTORY_CONTENTS_RESPONSE",
	CodeSuccess:                      "SUCCESS",
	CodeError:                        "ERROR",
	CodeUnauthorized:                 "UNAUTHORIZED",
}

// CodeName returns the symbolic name of a command code for logging.
// Unknown codes are rendered numerically.
func CodeName(code int32) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", code)
}

// ResponseCode returns the response code paired with a request code.
// Request/response pairs always differ by one.
func ResponseCode(requestCode int32) int32 {
	return requestCode + 1
}

// IsRequest reports whether the code is a client request code.
func IsRequest(code int32) bool {
	name, ok := codeNames[code]
	if !ok {
		return false
	}
	return code < 300 && name != "" && code%2 == 0
}
