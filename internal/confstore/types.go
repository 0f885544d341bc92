package confstore

import "time"

// Camera is the persisted configuration record for one camera identity.
// Records outlive sessions: a camera that goes away keeps its row (and its
// credentials and index) so it reconnects with the same settings when it
// reappears.
type Camera struct {
	// ID is the stable identity key, "<model>_<serial>".
	ID string `json:"id"`

	Name     string `json:"name"`
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`

	// Index is the user-assigned device number external protocol
	// collaborators address the camera by.
	Index int `json:"index"`

	// Online mirrors discovery: the camera is currently visible on the
	// network.
	Online bool `json:"online"`

	// Active means a live session is established.
	Active bool `json:"active"`

	// AutoAdded marks records created by discovery rather than a user.
	AutoAdded bool `json:"auto_added"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity builds the stable identity key from model and serial.
func Identity(model, serial string) string {
	return model + "_" + serial
}
