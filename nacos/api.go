package nacos

import (
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"

	"github.com/ceyewan/naming/xerrors"
)

// namingAPI Client 使用到的 naming_client.INamingClient 子集
type namingAPI interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
	GetService(param vo.GetServiceParam) (model.Service, error)
	SelectAllInstances(param vo.SelectAllInstancesParam) ([]model.Instance, error)
	Subscribe(param *vo.SubscribeParam) error
	Unsubscribe(param *vo.SubscribeParam) error
	GetAllServicesInfo(param vo.GetAllServiceInfoParam) (model.ServiceList, error)
	ServerHealthy() bool
	CloseClient()
}

// newSDKClient 按配置创建 SDK 客户端
func newSDKClient(cfg *Config) (namingAPI, error) {
	servers, err := cfg.serverConfigs()
	if err != nil {
		return nil, err
	}
	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  cfg.clientConfig(),
		ServerConfigs: servers,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to create nacos naming client")
	}
	return client, nil
}
