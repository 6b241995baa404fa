package main

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"golang.org/x/exp/maps"

	"github.com/scribehq/scribe/collab"
)

type SimUser struct {
	UserId   string
	UserName string
	Email    string
}

type SimDocument struct {
	DocumentId string
	Title      string
	Content    string
	Version    int
	OwnerId    string

	// collaborator id -> record
	collaborators map[string]*collab.ApiCollaborator
}

// in-memory document store. a stand-in for the durable backend, with the
// same version and permission semantics.
type SimStore struct {
	mutex sync.Mutex

	usersByEmail map[string]*SimUser
	usersById    map[string]*SimUser
	documents    map[string]*SimDocument
}

func NewSimStore() *SimStore {
	return &SimStore{
		usersByEmail: map[string]*SimUser{},
		usersById:    map[string]*SimUser{},
		documents:    map[string]*SimDocument{},
	}
}

// any email logs in. the account is minted on first use.
func (self *SimStore) Login(email string) *SimUser {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.user(email)
}

// caller must hold self.mutex
func (self *SimStore) user(email string) *SimUser {
	if user, ok := self.usersByEmail[email]; ok {
		return user
	}
	userName, _, _ := strings.Cut(email, "@")
	user := &SimUser{
		UserId:   uuid.New().String(),
		UserName: userName,
		Email:    email,
	}
	self.usersByEmail[email] = user
	self.usersById[user.UserId] = user
	return user
}

func (self *SimStore) CreateDocument(ownerId string, title string, content string) *SimDocument {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	document := &SimDocument{
		DocumentId:    uuid.New().String(),
		Title:         title,
		Content:       content,
		Version:       1,
		OwnerId:       ownerId,
		collaborators: map[string]*collab.ApiCollaborator{},
	}
	self.documents[document.DocumentId] = document
	return document
}

func (self *SimStore) GetDocument(documentId string) (*SimDocument, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	document, ok := self.documents[documentId]
	return document, ok
}

func (self *SimStore) ListDocuments(userId string) []*SimDocument {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	documents := []*SimDocument{}
	for _, document := range self.documents {
		if self.permission(document, userId) != "" {
			documents = append(documents, document)
		}
	}
	return documents
}

// Permission resolves what userId may do with the document:
// owner, write, read, or "" for no access.
func (self *SimStore) Permission(document *SimDocument, userId string) string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.permission(document, userId)
}

// caller must hold self.mutex
func (self *SimStore) permission(document *SimDocument, userId string) string {
	if document.OwnerId == userId {
		return collab.PermissionOwner
	}
	for _, collaborator := range document.collaborators {
		if collaborator.UserId == userId {
			return collaborator.Permission
		}
	}
	return ""
}

// Update applies a save against the stored copy. The save is accepted only
// when baseVersion matches the stored version; otherwise the stored copy is
// returned unchanged with ok false.
func (self *SimStore) Update(document *SimDocument, title string, content string, baseVersion int) (version int, ok bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if document.Version != baseVersion {
		return document.Version, false
	}
	if title != "" {
		document.Title = title
	}
	document.Content = content
	document.Version += 1
	return document.Version, true
}

func (self *SimStore) Rename(document *SimDocument, title string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	document.Title = title
}

func (self *SimStore) DeleteDocument(documentId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.documents, documentId)
}

func (self *SimStore) Share(document *SimDocument, email string, permission string) *collab.ApiCollaborator {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	user := self.user(email)
	for _, collaborator := range document.collaborators {
		if collaborator.UserId == user.UserId {
			collaborator.Permission = permission
			return collaborator
		}
	}
	collaborator := &collab.ApiCollaborator{
		CollaboratorId: uuid.New().String(),
		DocumentId:     document.DocumentId,
		UserId:         user.UserId,
		UserName:       user.UserName,
		Email:          user.Email,
		Permission:     permission,
	}
	document.collaborators[collaborator.CollaboratorId] = collaborator
	return collaborator
}

func (self *SimStore) Collaborators(document *SimDocument) []*collab.ApiCollaborator {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Values(document.collaborators)
}

func (self *SimStore) UpdateCollaborator(document *SimDocument, collaboratorId string, permission string) (*collab.ApiCollaborator, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	collaborator, ok := document.collaborators[collaboratorId]
	if !ok {
		return nil, false
	}
	collaborator.Permission = permission
	return collaborator, true
}

func (self *SimStore) RemoveCollaborator(document *SimDocument, collaboratorId string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := document.collaborators[collaboratorId]; !ok {
		return false
	}
	delete(document.collaborators, collaboratorId)
	return true
}

func (self *SimStore) apiDocument(document *SimDocument, userId string) *collab.ApiDocument {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return &collab.ApiDocument{
		DocumentId: document.DocumentId,
		Title:      document.Title,
		Content:    document.Content,
		Version:    document.Version,
		OwnerId:    document.OwnerId,
		Permission: self.permission(document, userId),
	}
}
