package types

import "time"

// Post is a piece of study content shared by a user.
type Post struct {
	// ID is the unique identifier of the post.
	ID int `json:"id" db:"id"`

	// AuthorID identifies the user who created the post.
	AuthorID int `json:"author_id" db:"author_id"`

	// Title is the short headline of the post.
	Title string `json:"title" db:"title"`

	// Body is the post content.
	Body string `json:"body" db:"body"`

	// Attachment describes the optional study file kept in object storage.
	Attachment *Attachment `json:"attachment,omitempty" db:"attachment"`

	// CreatedAt is the timestamp when the post was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the post.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Attachment is the metadata of an uploaded study file.
type Attachment struct {
	// ObjectKey is the location of the file in the configured bucket.
	ObjectKey string `json:"object_key"`

	// Filename is the original name of the uploaded file.
	Filename string `json:"filename"`

	// ContentType is the MIME type reported on upload.
	ContentType string `json:"content_type"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// SHA256 is the hex digest of the file contents.
	SHA256 string `json:"sha256"`
}

// Comment is a remark left on a post.
type Comment struct {
	ID        int       `json:"id" db:"id"`
	PostID    int       `json:"post_id" db:"post_id"`
	AuthorID  int       `json:"author_id" db:"author_id"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
