package main

// General API documentation for swaggo. Run `swag init -g cmd/lazyd/docs.go` to generate docs.
//
// @title           lazyd API
// @version         1.0
// @description     Lazy worker activation, lifecycle control and NDJSON inference streaming.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @securityDefinitions.apikey  AdminToken
// @in                          header
// @name                        Authorization
//
// @schemes http
