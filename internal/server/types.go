package server

// credentialsRequest is the body of POST /login.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// pushRequest is the body of POST /push/:username.
type pushRequest struct {
	Content string `json:"content"`
}

// RelayMessage is what a client sends on its push channel to reach another
// user.
type RelayMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// Delivery is what the recipient's channel receives.
type Delivery struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

type messageResponse struct {
	Message string            `json:"message"`
	Token   string            `json:"token,omitempty"`
	Profile map[string]string `json:"profile,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
