// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証、zapによるリクエストログ、パニックリカバリ、
// CORS設定など、gatewayとtopictrackerで共通して使用するミドルウェアを含む。
// エラーレスポンスは {"detail": "..."} 形式で返す。
package middleware
