package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 30 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// client for the durable document store. all calls are non-blocking with
// completion delivered through the callback; `Sync` variants block.
type DocumentApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewDocumentApi(apiUrl string) *DocumentApi {
	return NewDocumentApiWithContext(context.Background(), apiUrl)
}

func NewDocumentApiWithContext(ctx context.Context, apiUrl string) *DocumentApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &DocumentApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *DocumentApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *DocumentApi) Close() {
	self.cancel()
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Token  string `json:"token,omitempty"`
	UserId string `json:"user_id,omitempty"`
}

func (self *DocumentApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *DocumentApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

const (
	PermissionOwner = "owner"
	PermissionWrite = "write"
	PermissionRead  = "read"
)

type ApiDocument struct {
	DocumentId string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Version    int    `json:"version"`
	OwnerId    string `json:"owner_id,omitempty"`
	Permission string `json:"permission,omitempty"`
}

// writable means the participant may broadcast edits and persist
func (self *ApiDocument) Writable() bool {
	return self.Permission != PermissionRead
}

type GetDocumentCallback apiCallback[*GetDocumentResult]

type GetDocumentResult struct {
	Document *ApiDocument `json:"document,omitempty"`
}

func (self *DocumentApi) GetDocument(documentId string, callback GetDocumentCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/documents/%s", self.apiUrl, documentId),
		self.byJwt,
		&GetDocumentResult{},
		callback,
	)
}

func (self *DocumentApi) GetDocumentSync(documentId string) (*GetDocumentResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/documents/%s", self.apiUrl, documentId),
		self.byJwt,
		&GetDocumentResult{},
		NewNoopApiCallback[*GetDocumentResult](),
	)
}

type ListDocumentsCallback apiCallback[*ListDocumentsResult]

type ListDocumentsResult struct {
	Documents []*ApiDocument `json:"documents,omitempty"`
}

func (self *DocumentApi) ListDocuments(callback ListDocumentsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/documents", self.apiUrl),
		self.byJwt,
		&ListDocumentsResult{},
		callback,
	)
}

func (self *DocumentApi) ListDocumentsSync() (*ListDocumentsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/documents", self.apiUrl),
		self.byJwt,
		&ListDocumentsResult{},
		NewNoopApiCallback[*ListDocumentsResult](),
	)
}

type CreateDocumentCallback apiCallback[*CreateDocumentResult]

type CreateDocumentArgs struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

type CreateDocumentResult struct {
	Document *ApiDocument `json:"document,omitempty"`
}

func (self *DocumentApi) CreateDocument(createDocument *CreateDocumentArgs, callback CreateDocumentCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/documents", self.apiUrl),
		createDocument,
		self.byJwt,
		&CreateDocumentResult{},
		callback,
	)
}

func (self *DocumentApi) CreateDocumentSync(createDocument *CreateDocumentArgs) (*CreateDocumentResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/documents", self.apiUrl),
		createDocument,
		self.byJwt,
		&CreateDocumentResult{},
		NewNoopApiCallback[*CreateDocumentResult](),
	)
}

type UpdateDocumentCallback apiCallback[*UpdateDocumentResult]

type UpdateDocumentArgs struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Version int    `json:"version"`
}

// a version mismatch is not an error. the store answers with the
// authoritative copy in the conflict fields and the caller adopts it.
type UpdateDocumentResult struct {
	Document       *ApiDocument `json:"document,omitempty"`
	Conflict       bool         `json:"conflict,omitempty"`
	CurrentContent string       `json:"current_content,omitempty"`
	CurrentVersion int          `json:"current_version,omitempty"`
}

func (self *DocumentApi) UpdateDocument(documentId string, updateDocument *UpdateDocumentArgs, callback UpdateDocumentCallback) {
	go patch(
		self.ctx,
		fmt.Sprintf("%s/documents/%s", self.apiUrl, documentId),
		updateDocument,
		self.byJwt,
		&UpdateDocumentResult{},
		callback,
	)
}

func (self *DocumentApi) UpdateDocumentSync(documentId string, updateDocument *UpdateDocumentArgs) (*UpdateDocumentResult, error) {
	return patch(
		self.ctx,
		fmt.Sprintf("%s/documents/%s", self.apiUrl, documentId),
		updateDocument,
		self.byJwt,
		&UpdateDocumentResult{},
		NewNoopApiCallback[*UpdateDocumentResult](),
	)
}

type RenameDocumentCallback apiCallback[*RenameDocumentResult]

type RenameDocumentArgs struct {
	Title string `json:"title"`
}

type RenameDocumentResult struct {
	Document *ApiDocument `json:"document,omitempty"`
}

func (self *DocumentApi) RenameDocument(documentId string, renameDocument *RenameDocumentArgs, callback RenameDocumentCallback) {
	go patch(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/rename", self.apiUrl, documentId),
		renameDocument,
		self.byJwt,
		&RenameDocumentResult{},
		callback,
	)
}

func (self *DocumentApi) RenameDocumentSync(documentId string, renameDocument *RenameDocumentArgs) (*RenameDocumentResult, error) {
	return patch(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/rename", self.apiUrl, documentId),
		renameDocument,
		self.byJwt,
		&RenameDocumentResult{},
		NewNoopApiCallback[*RenameDocumentResult](),
	)
}

type DeleteDocumentCallback apiCallback[*DeleteDocumentResult]

type DeleteDocumentResult struct {
	Deleted bool `json:"deleted,omitempty"`
}

func (self *DocumentApi) DeleteDocument(documentId string, callback DeleteDocumentCallback) {
	go del(
		self.ctx,
		fmt.Sprintf("%s/documents/%s", self.apiUrl, documentId),
		self.byJwt,
		&DeleteDocumentResult{},
		callback,
	)
}

func (self *DocumentApi) DeleteDocumentSync(documentId string) (*DeleteDocumentResult, error) {
	return del(
		self.ctx,
		fmt.Sprintf("%s/documents/%s", self.apiUrl, documentId),
		self.byJwt,
		&DeleteDocumentResult{},
		NewNoopApiCallback[*DeleteDocumentResult](),
	)
}

type ApiCollaborator struct {
	CollaboratorId string `json:"id"`
	DocumentId     string `json:"document_id"`
	UserId         string `json:"user_id"`
	UserName       string `json:"username,omitempty"`
	Email          string `json:"email,omitempty"`
	Permission     string `json:"permission"`
}

type ShareDocumentCallback apiCallback[*ShareDocumentResult]

type ShareDocumentArgs struct {
	Email      string `json:"email"`
	Permission string `json:"permission"`
}

type ShareDocumentResult struct {
	Collaborator *ApiCollaborator `json:"collaborator,omitempty"`
}

func (self *DocumentApi) ShareDocument(documentId string, shareDocument *ShareDocumentArgs, callback ShareDocumentCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/share", self.apiUrl, documentId),
		shareDocument,
		self.byJwt,
		&ShareDocumentResult{},
		callback,
	)
}

func (self *DocumentApi) ShareDocumentSync(documentId string, shareDocument *ShareDocumentArgs) (*ShareDocumentResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/share", self.apiUrl, documentId),
		shareDocument,
		self.byJwt,
		&ShareDocumentResult{},
		NewNoopApiCallback[*ShareDocumentResult](),
	)
}

type GetCollaboratorsCallback apiCallback[*GetCollaboratorsResult]

type GetCollaboratorsResult struct {
	Collaborators []*ApiCollaborator `json:"collaborators,omitempty"`
}

func (self *DocumentApi) GetCollaborators(documentId string, callback GetCollaboratorsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/collaborators", self.apiUrl, documentId),
		self.byJwt,
		&GetCollaboratorsResult{},
		callback,
	)
}

func (self *DocumentApi) GetCollaboratorsSync(documentId string) (*GetCollaboratorsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/collaborators", self.apiUrl, documentId),
		self.byJwt,
		&GetCollaboratorsResult{},
		NewNoopApiCallback[*GetCollaboratorsResult](),
	)
}

type UpdateCollaboratorCallback apiCallback[*UpdateCollaboratorResult]

type UpdateCollaboratorArgs struct {
	Permission string `json:"permission"`
}

type UpdateCollaboratorResult struct {
	Collaborator *ApiCollaborator `json:"collaborator,omitempty"`
}

func (self *DocumentApi) UpdateCollaborator(documentId string, collaboratorId string, updateCollaborator *UpdateCollaboratorArgs, callback UpdateCollaboratorCallback) {
	go patch(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/collaborators/%s", self.apiUrl, documentId, collaboratorId),
		updateCollaborator,
		self.byJwt,
		&UpdateCollaboratorResult{},
		callback,
	)
}

type RemoveCollaboratorCallback apiCallback[*RemoveCollaboratorResult]

type RemoveCollaboratorResult struct {
	Removed bool `json:"removed,omitempty"`
}

func (self *DocumentApi) RemoveCollaborator(documentId string, collaboratorId string, callback RemoveCollaboratorCallback) {
	go del(
		self.ctx,
		fmt.Sprintf("%s/documents/%s/collaborators/%s", self.apiUrl, documentId, collaboratorId),
		self.byJwt,
		&RemoveCollaboratorResult{},
		callback,
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, "POST", url, args, byJwt, result, callback)
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, "GET", url, nil, byJwt, result, callback)
}

func patch[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, "PATCH", url, args, byJwt, result, callback)
}

func del[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, "DELETE", url, nil, byJwt, result, callback)
}

func request[R any](ctx context.Context, method string, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	switch r.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		// optimistic concurrency miss. the body carries the authoritative copy
	default:
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		if errorMessage == "" {
			errorMessage = r.Status
		} else {
			var errorBody struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(responseBodyBytes, &errorBody); err == nil && errorBody.Error != "" {
				errorMessage = errorBody.Error
			}
		}
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
