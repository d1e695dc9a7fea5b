package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
)

// GetCacheLifespan returns the read-through cache TTL. Default 900 seconds.
func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_SECONDS"))
	if err != nil || lifespan <= 0 {
		lifespan = 900
	}
	return time.Duration(lifespan) * time.Second
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// store instance under Type:$id
func StoreRedis[T any](obj any, id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// store instance under an explicit natural key, Type:$keyName:$keyValue
func StoreRedisKeyed[T any](obj any, keyName string, keyValue string) error {
	key := GetTypeName[T]() + ":" + keyName + ":" + keyValue
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// get from redis, returns nil if does not exist
func RetrieveRedis[T any](id int) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func RetrieveRedisKeyed[T any](keyName string, keyValue string) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + keyName + ":" + keyValue
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}

func RemoveRedisKeyed[T any](keyName string, keyValue string) error {
	key := GetTypeName[T]() + ":" + keyName + ":" + keyValue
	return config.RemoveRedisKey(key)
}
