package versions

import (
	"bms_platform/asset_bazaar/schema"
	"log"

	"gorm.io/gorm"
)

// Users imported before avatars were tracked have an empty avatar url, give
// them the same default avatar new accounts get.
func Migration_2_default_avatars(txn *gorm.DB) error {
	type User struct {
		Id        string
		AvatarUrl string
	}

	var users []User
	if err := txn.Model(&User{}).Where("avatar_url = ?", "").Find(&users).Error; err != nil {
		return err
	}

	for _, user := range users {
		err := txn.Model(&User{}).Where("id = ?", user.Id).Update("avatar_url", schema.DefaultAvatarUrl(user.Id)).Error
		if err != nil {
			return err
		}
	}

	log.Printf("set default avatar for %d users", len(users))

	return nil
}
