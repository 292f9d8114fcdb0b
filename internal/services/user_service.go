package services

import (
	"fmt"

	"sparlo_go_backend/internal/models"

	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateOrUpdateUser upserts the row for an authenticated principal. Called
// from the auth middleware on every verified request.
func (s *UserService) CreateOrUpdateUser(auth0ID, email string) (*models.User, error) {
	var user models.User
	result := s.db.Where(models.User{Auth0ID: auth0ID}).
		Assign(models.User{Email: email}).
		FirstOrCreate(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create or update user: %w", result.Error)
	}
	return &user, nil
}

func (s *UserService) GetUserByAuth0ID(auth0ID string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("auth0_id = ?", auth0ID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
