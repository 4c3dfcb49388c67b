// internal/example/schemas.go
package example

// LoginInput is the /auth/login body.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Token is the /auth/login response.
type Token struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// ErrorBody documents error responses.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Pagination is the /users query. Zero values take the defaults.
type Pagination struct {
	Limit  int `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset int `json:"offset" validate:"omitempty,min=0"`
}

// UserList is one page of users.
type UserList struct {
	Data   []User `json:"data"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// IDParams is the :id path parameter.
type IDParams struct {
	ID string `json:"id" validate:"required,uuid"`
}

// CreateUserInput is the POST /users body.
type CreateUserInput struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=admin user guest"`
}

// UpdateUserInput is the PATCH /users/:id body.
type UpdateUserInput struct {
	Name *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Role *string `json:"role,omitempty" validate:"omitempty,oneof=admin user guest"`
}

// Deleted is the DELETE /users/:id response.
type Deleted struct {
	Success bool `json:"success"`
}

// Health is the /health response.
type Health struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}
