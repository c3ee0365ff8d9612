package models

type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     Actor  `json:"role"`
}

type User struct {
	UUID     string `json:"uuid"`
	Login    string `json:"login"`
	Password string `json:"-"`
	Role     Actor  `json:"role"`
}
